package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/makkenzo/license-issuer-api/internal/domain/product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_EmbeddedCatalog(t *testing.T) {
	c, err := Load("", zap.NewNop())
	require.NoError(t, err)

	p, err := c.GetBySKU(context.Background(), "FHIR-DEV-PRO-1Y")
	require.NoError(t, err)
	assert.Equal(t, product.CategoryLicense, p.Category)
	assert.Equal(t, product.EditionProfessional, p.Edition)
	assert.Equal(t, product.TermAnnual, p.Term)
	assert.True(t, p.IssuesLicenseKey())

	onsite, err := c.GetBySKU(context.Background(), "FHIR-TRN-ONS-DAY")
	require.NoError(t, err)
	assert.False(t, onsite.IssuesLicenseKey())

	_, err = c.GetBySKU(context.Background(), "NOPE")
	assert.ErrorIs(t, err, product.ErrNotFound)

	all, err := c.List(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, all)
}

func TestGetBySKU_ReturnsCopy(t *testing.T) {
	c, err := Parse([]byte(`
products:
  - sku: A
    name: Product A
    features: [one]
`))
	require.NoError(t, err)

	p, err := c.GetBySKU(context.Background(), "A")
	require.NoError(t, err)
	p.Name = "changed"
	p.Features[0] = "changed"

	again, err := c.GetBySKU(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Product A", again.Name)
	assert.Equal(t, []string{"one"}, again.Features)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"missing sku":   "products:\n  - name: nameless\n",
		"duplicate sku": "products:\n  - sku: A\n  - sku: A\n",
		"bad yaml":      "products: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("products:\n  - sku: X\n    digital: true\n    deliverable: {kind: license_key, max_users: 3}\n"), 0o600))

	c, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	p, err := c.GetBySKU(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Deliverable.MaxUsers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}
