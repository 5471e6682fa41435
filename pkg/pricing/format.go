// Package pricing formats money for display and normalises cart quantities.
package pricing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultLocale is used when the caller passes an empty or unparsable locale.
const DefaultLocale = "en-US"

// languages that place the currency symbol after the number.
var suffixSymbol = map[string]bool{
	"de": true, "fr": true, "es": true, "it": true, "sv": true, "pl": true,
	"cs": true, "fi": true, "da": true, "nb": true, "ru": true, "pt-PT": true,
}

// FormatPrice renders amount in currencyCode using locale grouping and decimal
// conventions. The amount is rounded to the currency's standard minor units.
func FormatPrice(amount decimal.Decimal, currencyCode, locale string) (string, error) {
	unit, code, err := parseCurrency(currencyCode)
	if err != nil {
		return "", err
	}
	tag := parseLocale(locale)
	scale, _ := currency.Standard.Rounding(unit)

	rounded := amount.Round(int32(scale))
	negative := rounded.IsNegative()
	p := message.NewPrinter(tag)
	digits := formatDigits(p, rounded.Abs(), scale)

	// currencies without a localized symbol come back as their ISO code.
	symbol := p.Sprint(currency.Symbol(unit))
	ok := symbol != code

	var out string
	switch {
	case placesSymbolAfter(tag):
		out = digits + " " + symbol
	case !ok:
		out = symbol + " " + digits
	default:
		out = symbol + digits
	}
	if negative {
		out = "-" + out
	}
	return out, nil
}

// FormatPriceRange renders "min - max", collapsing to a single price when the
// bounds are equal. Reversed bounds are swapped.
func FormatPriceRange(min, max decimal.Decimal, currencyCode, locale string) (string, error) {
	if min.GreaterThan(max) {
		min, max = max, min
	}
	low, err := FormatPrice(min, currencyCode, locale)
	if err != nil {
		return "", err
	}
	if min.Equal(max) {
		return low, nil
	}
	high, err := FormatPrice(max, currencyCode, locale)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s - %s", low, high), nil
}

// ToMinorUnits converts amount into the integer minor units payment providers
// expect, e.g. 9.50 USD is 950 and 950 JPY is 950.
func ToMinorUnits(amount decimal.Decimal, currencyCode string) (int64, error) {
	unit, _, err := parseCurrency(currencyCode)
	if err != nil {
		return 0, err
	}
	scale, _ := currency.Standard.Rounding(unit)
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, currencyCode string) (decimal.Decimal, error) {
	unit, _, err := parseCurrency(currencyCode)
	if err != nil {
		return decimal.Zero, err
	}
	scale, _ := currency.Standard.Rounding(unit)
	return decimal.New(minor, -int32(scale)), nil
}

// ValidateCurrency reports whether code is a recognised ISO 4217 currency.
func ValidateCurrency(code string) error {
	_, _, err := parseCurrency(code)
	return err
}

func parseCurrency(raw string) (currency.Unit, string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 3 {
		return currency.Unit{}, code, &UnsupportedCurrencyError{Code: raw}
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return currency.Unit{}, code, &UnsupportedCurrencyError{Code: raw}
	}
	return unit, code, nil
}

func parseLocale(raw string) language.Tag {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultLocale
	}
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil || tag == language.Und {
		return language.AmericanEnglish
	}
	return tag
}

// formatDigits renders a non-negative amount without passing through float64.
// The integer part is grouped by the printer when it fits an int64 and the
// fraction is appended as text.
func formatDigits(p *message.Printer, amount decimal.Decimal, scale int) string {
	whole, frac, _ := strings.Cut(amount.StringFixed(int32(scale)), ".")
	group, point := separators(p)
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = p.Sprint(number.Decimal(n))
	} else {
		whole = groupThousands(whole, group)
	}
	if frac == "" {
		return whole
	}
	return whole + point + frac
}

// separators reads the grouping and decimal marks the printer's locale uses.
func separators(p *message.Printer) (group, point string) {
	sample := p.Sprint(number.Decimal(1234567.5, number.Scale(1)))
	i := strings.Index(sample, "234")
	j := strings.LastIndex(sample, "567")
	if !strings.HasPrefix(sample, "1") || i < 0 || j < i || !strings.HasSuffix(sample, "5") || len(sample)-1 < j+3 {
		return ",", "."
	}
	return sample[1:i], sample[j+3 : len(sample)-1]
}

func groupThousands(digits, sep string) string {
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	var b strings.Builder
	b.WriteString(digits[:head])
	for i := head; i < len(digits); i += 3 {
		b.WriteString(sep)
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func placesSymbolAfter(tag language.Tag) bool {
	base, _ := tag.Base()
	if region, conf := tag.Region(); conf == language.Exact && base.String() == "pt" {
		return suffixSymbol["pt-"+region.String()]
	}
	return suffixSymbol[base.String()]
}
