package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents lists supported ISO-4217 currencies and their minor-unit digits
var currencyExponents = map[string]int32{
	"KES": 2, "UGX": 0, "TZS": 2, "RWF": 0, "BIF": 0, "ETB": 2,
	"NGN": 2, "GHS": 2, "ZAR": 2, "ZMW": 2, "MWK": 2, "XOF": 0,
	"USD": 2, "EUR": 2, "GBP": 2,
}

// currencyRegions is the default phone region for numbers without a country code
var currencyRegions = map[string]string{
	"KES": "KE", "UGX": "UG", "TZS": "TZ", "RWF": "RW", "BIF": "BI", "ETB": "ET",
	"NGN": "NG", "GHS": "GH", "ZAR": "ZA", "ZMW": "ZM", "MWK": "MW",
}

// maxAmountMinor bounds parsed amounts well inside int64
var maxAmountMinor = decimal.New(1, 15)

// CurrencyExponent returns the minor-unit digits for a supported currency
func CurrencyExponent(currency string) (int32, bool) {
	exp, ok := currencyExponents[strings.ToUpper(currency)]
	return exp, ok
}

// NormalizeCurrency upper-cases and checks a currency code
func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := currencyExponents[c]; !ok {
		return "", fmt.Errorf("unsupported currency %q", currency)
	}
	return c, nil
}

// ParseMinorUnits converts a decimal amount string to integer minor units.
// It rejects non-positive amounts and more fractional digits than the currency allows.
func ParseMinorUnits(amount, currency string) (int64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(amount), ",", "")
	if s == "" {
		return 0, fmt.Errorf("amount is required")
	}
	exp, ok := CurrencyExponent(currency)
	if !ok {
		return 0, fmt.Errorf("unsupported currency %q", currency)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a number", amount)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("amount must be positive")
	}

	scaled := d.Shift(exp)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places for %s", s, exp, currency)
	}
	if scaled.GreaterThan(maxAmountMinor) {
		return 0, fmt.Errorf("amount %s exceeds the supported maximum", s)
	}
	return scaled.IntPart(), nil
}

// FormatMinorUnits renders minor units as a decimal string for display
func FormatMinorUnits(minor int64, currency string) string {
	exp, ok := CurrencyExponent(currency)
	if !ok {
		exp = 2
	}
	return decimal.New(minor, -exp).StringFixed(exp)
}
