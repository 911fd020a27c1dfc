package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/makkenzo/license-issuer-api/internal/domain/product"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed products.yaml
var defaultCatalog []byte

type catalogFile struct {
	Products []*product.Product `yaml:"products"`
}

// YAMLCatalog is a read-only product catalog loaded once at startup.
type YAMLCatalog struct {
	products []*product.Product
	bySKU    map[string]*product.Product
}

var _ product.Catalog = (*YAMLCatalog)(nil)

// Load reads the catalog at path, or the embedded default catalog when path is empty.
func Load(path string, logger *zap.Logger) (*YAMLCatalog, error) {
	data := defaultCatalog
	source := "embedded"
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read product catalog %s: %w", path, err)
		}
		data = raw
		source = path
	}

	c, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Named("Catalog").Info("Product catalog loaded", zap.String("source", source), zap.Int("products", len(c.products)))
	return c, nil
}

func Parse(data []byte) (*YAMLCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse product catalog: %w", err)
	}

	c := &YAMLCatalog{
		products: make([]*product.Product, 0, len(file.Products)),
		bySKU:    make(map[string]*product.Product, len(file.Products)),
	}
	for i, p := range file.Products {
		if p == nil || strings.TrimSpace(p.SKU) == "" {
			return nil, fmt.Errorf("product catalog entry %d has no sku", i)
		}
		if _, dup := c.bySKU[p.SKU]; dup {
			return nil, fmt.Errorf("product catalog has duplicate sku %q", p.SKU)
		}
		c.bySKU[p.SKU] = p
		c.products = append(c.products, p)
	}
	return c, nil
}

func (c *YAMLCatalog) GetBySKU(ctx context.Context, sku string) (*product.Product, error) {
	p, ok := c.bySKU[sku]
	if !ok {
		return nil, fmt.Errorf("%w: %s", product.ErrNotFound, sku)
	}
	cp := *p
	cp.Features = append([]string(nil), p.Features...)
	return &cp, nil
}

func (c *YAMLCatalog) List(ctx context.Context) ([]*product.Product, error) {
	out := make([]*product.Product, len(c.products))
	for i, p := range c.products {
		cp := *p
		cp.Features = append([]string(nil), p.Features...)
		out[i] = &cp
	}
	return out, nil
}
