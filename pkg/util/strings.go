package util

import "strings"

// NormalizeSymbol trims and upper-cases a ticker; empty means invalid.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
