package cartstore

import (
	"context"

	"github.com/shopspring/decimal"
)

// CatalogVariant is a purchasable variant of a catalog product.
type CatalogVariant struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// CatalogProduct is what the store needs to know about a product to price and
// stock-check a line.
type CatalogProduct struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Active   bool
	Variants []CatalogVariant
}

// Catalog is the source of truth for price and stock. Implementations return
// ErrProductNotFound for unknown ids.
type Catalog interface {
	Product(ctx context.Context, productID string) (CatalogProduct, error)
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(ctx context.Context, productID string) (CatalogProduct, error)

func (f CatalogFunc) Product(ctx context.Context, productID string) (CatalogProduct, error) {
	return f(ctx, productID)
}

// Offer is the name, price and stock that apply to one line key.
type Offer struct {
	Name  string
	Price decimal.Decimal
	Stock int
}

// Resolve picks the price and stock that apply to the variant, if any. An
// inactive product resolves with zero stock.
func Resolve(p CatalogProduct, variantID string) (Offer, error) {
	if variantID == "" {
		if len(p.Variants) > 0 {
			return Offer{}, ErrVariantRequired
		}
		stock := p.Stock
		if !p.Active {
			stock = 0
		}
		return Offer{Name: p.Name, Price: p.Price, Stock: stock}, nil
	}
	for _, v := range p.Variants {
		if v.ID != variantID {
			continue
		}
		stock := v.Stock
		if !p.Active {
			stock = 0
		}
		name := p.Name
		if v.Name != "" {
			name = p.Name + " - " + v.Name
		}
		return Offer{Name: name, Price: v.Price, Stock: stock}, nil
	}
	return Offer{}, ErrProductNotFound
}
