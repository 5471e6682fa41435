package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/pricing"
)

// ProductDTO is the public product payload. The cart sync client decodes the
// id, name, price, stock, isActive and variants fields.
type ProductDTO struct {
	ID           uuid.UUID       `json:"id"`
	Slug         string          `json:"slug"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	DisplayPrice string          `json:"displayPrice,omitempty"`
	Stock        int             `json:"stock"`
	IsActive     bool            `json:"isActive"`
	Variants     []VariantDTO    `json:"variants"`
	Media        []MediaDTO      `json:"media"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// VariantDTO carries a nil price when the variant inherits the product price.
type VariantDTO struct {
	ID       uuid.UUID        `json:"id"`
	SKU      string           `json:"sku"`
	Name     string           `json:"name"`
	Price    *decimal.Decimal `json:"price"`
	Stock    int              `json:"stock"`
	IsActive bool             `json:"isActive"`
}

type MediaDTO struct {
	ID          uuid.UUID `json:"id"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Position    int       `json:"position"`
}

// ProductList is one page of products.
type ProductList struct {
	Items      []ProductDTO `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// NewProductDTO builds a DTO from the persisted model. DisplayPrice is left
// empty when the currency cannot be formatted.
func NewProductDTO(product *models.Product, locale string) ProductDTO {
	dto := ProductDTO{
		ID:          product.ID,
		Slug:        product.Slug,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		Currency:    product.Currency,
		Stock:       product.Stock,
		IsActive:    product.IsActive,
		Variants:    make([]VariantDTO, 0, len(product.Variants)),
		Media:       make([]MediaDTO, 0, len(product.Media)),
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   product.UpdatedAt,
	}

	low, high := product.Price, product.Price
	seen := false
	for i, v := range product.Variants {
		dto.Variants = append(dto.Variants, VariantDTO{
			ID:       v.ID,
			SKU:      v.SKU,
			Name:     v.Name,
			Price:    v.Price,
			Stock:    v.Stock,
			IsActive: v.IsActive,
		})
		if !v.IsActive {
			continue
		}
		price := variantPrice(product, &product.Variants[i])
		if !seen || price.LessThan(low) {
			low = price
		}
		if !seen || price.GreaterThan(high) {
			high = price
		}
		seen = true
	}
	if display, err := pricing.FormatPriceRange(low, high, product.Currency, locale); err == nil {
		dto.DisplayPrice = display
	}

	for _, m := range product.Media {
		dto.Media = append(dto.Media, MediaDTO{
			ID:          m.ID,
			URL:         m.URL,
			ContentType: m.ContentType,
			SizeBytes:   m.SizeBytes,
			Position:    m.Position,
		})
	}
	return dto
}

func variantPrice(product *models.Product, variant *models.ProductVariant) decimal.Decimal {
	if variant.Price != nil {
		return *variant.Price
	}
	return product.Price
}

// ToCatalogProduct converts a product into the shape the cart store prices
// lines with. Inactive variants are omitted.
func ToCatalogProduct(product *models.Product) cartstore.CatalogProduct {
	out := cartstore.CatalogProduct{
		ID:     product.ID.String(),
		Name:   product.Name,
		Price:  product.Price,
		Stock:  product.Stock,
		Active: product.IsActive,
	}
	for i := range product.Variants {
		v := &product.Variants[i]
		if !v.IsActive {
			continue
		}
		out.Variants = append(out.Variants, cartstore.CatalogVariant{
			ID:    v.ID.String(),
			Name:  v.Name,
			Price: variantPrice(product, v),
			Stock: v.Stock,
		})
	}
	return out
}
