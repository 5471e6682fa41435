package enums

// CartStatus is active until the cart is merged into a customer cart,
// converted into a paid order or abandoned after its guest TTL.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusMerged    CartStatus = "merged"
	CartStatusConverted CartStatus = "converted"
	CartStatusAbandoned CartStatus = "abandoned"
)

var cartStatuses = values[CartStatus]{CartStatusActive, CartStatusMerged, CartStatusConverted, CartStatusAbandoned}

func (c CartStatus) IsValid() bool { return cartStatuses.has(c) }

func ParseCartStatus(raw string) (CartStatus, error) {
	return cartStatuses.parse("cart status", raw)
}

// IsOpen reports whether lines may still change.
func (c CartStatus) IsOpen() bool {
	return c == CartStatusActive
}
