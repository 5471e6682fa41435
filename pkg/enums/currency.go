package enums

// Currency is an ISO 4217 code the storefront can price in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyCAD Currency = "CAD"
	CurrencyJPY Currency = "JPY"
)

var currencies = values[Currency]{CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyCAD, CurrencyJPY}

func (c Currency) IsValid() bool { return currencies.has(c) }

func ParseCurrency(raw string) (Currency, error) {
	return currencies.parse("currency", raw)
}
