package cartstore

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LineKey identifies a cart line: "product" or "product:variant".
type LineKey string

// KeyFor builds the line key for a product and optional variant.
func KeyFor(productID, variantID string) LineKey {
	productID = strings.TrimSpace(productID)
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return LineKey(productID)
	}
	return LineKey(productID + ":" + variantID)
}

// Split returns the product and variant parts of the key.
func (k LineKey) Split() (productID, variantID string) {
	productID, variantID, _ = strings.Cut(string(k), ":")
	return productID, variantID
}

// Line is one cart entry. UnitPrice is the catalog price captured when the
// line was first added; LineTotal is derived and only populated on snapshots.
type Line struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// Key returns the line key.
func (l Line) Key() LineKey {
	return KeyFor(l.ProductID, l.VariantID)
}

// Snapshot is an immutable copy of cart state. ItemCount and Subtotal are
// always computed from Items.
type Snapshot struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Items     []Line          `json:"items"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	UpdatedAt time.Time       `json:"updatedAt"`
	SyncError bool            `json:"syncError"`
}

// Line returns the line stored under key, if any.
func (s Snapshot) Line(key LineKey) (Line, bool) {
	for _, line := range s.Items {
		if line.Key() == key {
			return line, true
		}
	}
	return Line{}, false
}

// ServerCart is the authoritative cart returned by the server endpoint.
type ServerCart struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Items    []Line `json:"items"`
}

func totals(lines []Line) (int, decimal.Decimal) {
	count := 0
	subtotal := decimal.Zero
	for _, line := range lines {
		count += line.Quantity
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return count, subtotal
}
