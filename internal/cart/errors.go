package cart

import (
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
)

// Shortfall is one line asking for more units than the catalog holds.
type Shortfall struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// outOfStock builds an OUT_OF_STOCK error whose details survive a JSON round
// trip in the same shape: {"lines": [{productId, variantId, name, requested, available}]}.
func outOfStock(lines []Shortfall) error {
	items := make([]any, 0, len(lines))
	for _, l := range lines {
		item := map[string]any{
			"productId": l.ProductID,
			"name":      l.Name,
			"requested": l.Requested,
			"available": l.Available,
		}
		if l.VariantID != "" {
			item["variantId"] = l.VariantID
		}
		items = append(items, item)
	}
	return pkgerrors.New(pkgerrors.CodeOutOfStock, "not enough stock").
		WithDetails(map[string]any{"lines": items})
}
