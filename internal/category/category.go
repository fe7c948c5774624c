// Package category holds the fixed topic taxonomy used for classification, clustering and the digest.
package category

import "strings"

const (
	HateCrimes   = "Hate Crimes & Violence"
	Government   = "Government & Policy"
	Campus       = "Campus & Academia"
	Legal        = "Legal & Civil Rights"
	Media        = "Media & Public Discourse"
	Organization = "Organizational Response"
	Intl         = "International"
	Other        = "Other"
)

// Order is the digest presentation order.
var Order = []string{
	HateCrimes,
	Government,
	Campus,
	Legal,
	Media,
	Organization,
	Intl,
	Other,
}

var byFold = func() map[string]string {
	m := make(map[string]string, len(Order))
	for _, name := range Order {
		m[strings.ToLower(name)] = name
	}
	return m
}()

// Normalize maps a label onto the taxonomy, matching case-insensitively. Unknown labels become Other.
func Normalize(raw string) string {
	if name, ok := Lookup(raw); ok {
		return name
	}
	return Other
}

// Lookup returns the canonical spelling of a known category.
func Lookup(raw string) (string, bool) {
	name, ok := byFold[strings.ToLower(strings.TrimSpace(raw))]
	return name, ok
}

// OrDefault returns the category, treating nil and blank as Other.
func OrDefault(raw *string) string {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return Other
	}
	return Normalize(*raw)
}

// Rank is the position of a category in Order; unknown labels sort last.
func Rank(name string) int {
	for i, candidate := range Order {
		if candidate == name {
			return i
		}
	}
	return len(Order)
}
