package workspace

import (
	"regexp"
	"strconv"
	"strings"
)

var costNumber = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParseCost extracts a numeric amount from a free-form cost string such as
// "$1,250.50" or "about 30 EUR". A range ("$10 - $20", "10 to 20") yields
// its midpoint.
func ParseCost(s string) (float64, bool) {
	locs := costNumber.FindAllStringIndex(s, 2)
	if len(locs) == 0 {
		return 0, false
	}
	first, ok := parseAmount(s[locs[0][0]:locs[0][1]])
	if !ok {
		return 0, false
	}
	if len(locs) == 2 && isRangeSeparator(s[locs[0][1]:locs[1][0]]) {
		if second, ok := parseAmount(s[locs[1][0]:locs[1][1]]); ok {
			return (first + second) / 2, true
		}
	}
	return first, true
}

func parseAmount(n string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", ""), 64)
	return v, err == nil
}

func isRangeSeparator(between string) bool {
	b := strings.ToLower(between)
	return strings.ContainsAny(b, "-–") || strings.Contains(b, " to ")
}

// TotalCost sums the parseable item costs.
func TotalCost(items []*Item) float64 {
	var total float64
	for _, it := range items {
		if v, ok := ParseCost(it.Cost); ok {
			total += v
		}
	}
	return total
}
