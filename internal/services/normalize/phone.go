package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone converts a payer phone number to E.164.
// Bare digit strings longer than a national number are treated as international.
func NormalizePhone(raw, region string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if strings.ContainsAny(s, "*#") {
		return "", fmt.Errorf("phone number is masked")
	}

	digits := 0
	allDigits := true
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		} else if r != '+' && r != ' ' && r != '-' && r != '(' && r != ')' {
			allDigits = false
		}
	}
	if !allDigits {
		return "", fmt.Errorf("phone number contains invalid characters")
	}
	if !strings.HasPrefix(s, "+") && !strings.HasPrefix(s, "0") && digits > 10 {
		s = "+" + s
	}

	num, err := phonenumbers.Parse(s, strings.ToUpper(region))
	if err != nil {
		return "", fmt.Errorf("parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("phone number %q is not valid", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// RegionForCurrency picks the default dialling region for an integration currency
func RegionForCurrency(currency, fallback string) string {
	if r, ok := currencyRegions[strings.ToUpper(currency)]; ok {
		return r
	}
	return fallback
}
