package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		amount   string
		currency string
		locale   string
		want     string
	}{
		{name: "usd cents padded", amount: "9.5", currency: "USD", locale: "en-US", want: "$9.50"},
		{name: "usd grouping", amount: "1234.5", currency: "USD", locale: "en-US", want: "$1,234.50"},
		{name: "lowercase code", amount: "3", currency: "usd", locale: "en-US", want: "$3.00"},
		{name: "eur german", amount: "1234.5", currency: "EUR", locale: "de-DE", want: "1.234,50 €"},
		{name: "jpy has no minor units", amount: "1500.4", currency: "JPY", locale: "en-US", want: "¥1,500"},
		{name: "rounds half up", amount: "2.005", currency: "USD", locale: "en-US", want: "$2.01"},
		{name: "negative amount", amount: "-4.2", currency: "USD", locale: "en-US", want: "-$4.20"},
		{name: "unknown symbol uses code", amount: "10", currency: "SEK", locale: "en-US", want: "SEK 10.00"},
		{name: "empty locale falls back", amount: "9.5", currency: "USD", locale: "", want: "$9.50"},
		{name: "large amount keeps every digit", amount: "123456789012345678.91", currency: "USD", locale: "en-US", want: "$123,456,789,012,345,678.91"},
		{name: "beyond int64 keeps every digit", amount: "12345678901234567890.12", currency: "USD", locale: "en-US", want: "$12,345,678,901,234,567,890.12"},
		{name: "large amount german grouping", amount: "1234567890123.45", currency: "EUR", locale: "de-DE", want: "1.234.567.890.123,45 €"},
		{name: "symbol from locale data", amount: "2", currency: "GBP", locale: "en-GB", want: "£2.00"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := FormatPrice(decimal.RequireFromString(tc.amount), tc.currency, tc.locale)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatPriceUnsupportedCurrency(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"ZZZ", "", "DOLLARS"} {
		_, err := FormatPrice(decimal.NewFromInt(1), code, "en-US")
		var unsupported *UnsupportedCurrencyError
		require.Truef(t, errors.As(err, &unsupported), "code %q: expected UnsupportedCurrencyError, got %v", code, err)
		assert.Equal(t, code, unsupported.Code)
	}
}

func TestFormatPriceRange(t *testing.T) {
	t.Parallel()

	got, err := FormatPriceRange(decimal.RequireFromString("5"), decimal.RequireFromString("5.00"), "USD", "en-US")
	require.NoError(t, err)
	assert.Equal(t, "$5.00", got)

	got, err = FormatPriceRange(decimal.RequireFromString("5"), decimal.RequireFromString("12.5"), "USD", "en-US")
	require.NoError(t, err)
	assert.Equal(t, "$5.00 - $12.50", got)

	got, err = FormatPriceRange(decimal.RequireFromString("12.5"), decimal.RequireFromString("5"), "USD", "en-US")
	require.NoError(t, err)
	assert.Equal(t, "$5.00 - $12.50", got)

	_, err = FormatPriceRange(decimal.Zero, decimal.NewFromInt(1), "NOPE", "en-US")
	require.Error(t, err)
}

func TestMinorUnits(t *testing.T) {
	t.Parallel()

	minor, err := ToMinorUnits(decimal.RequireFromString("9.50"), "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(950), minor)

	minor, err = ToMinorUnits(decimal.RequireFromString("950"), "JPY")
	require.NoError(t, err)
	assert.Equal(t, int64(950), minor)

	back, err := FromMinorUnits(950, "USD")
	require.NoError(t, err)
	assert.True(t, back.Equal(decimal.RequireFromString("9.5")))

	_, err = ToMinorUnits(decimal.NewFromInt(1), "???")
	require.Error(t, err)
}
