package product

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("product not found")

type Catalog interface {
	GetBySKU(ctx context.Context, sku string) (*Product, error)
	List(ctx context.Context) ([]*Product, error)
}
