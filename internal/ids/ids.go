// Package ids normalizes free-text input into platform identifiers.
//
// Discord snowflakes are 17-20 digit integers that exceed the float64 mantissa,
// so ordering compares them as arbitrary-precision integers rather than as
// strings or floats.
package ids

import (
	"math/big"
	"regexp"
	"sort"
)

var snowflakePattern = regexp.MustCompile(`\d{17,20}`)

// Normalize extracts every identifier-shaped substring from the input,
// deduplicates, and returns them sorted ascending by numeric value. Empty
// input yields an empty slice; callers must reject empty results before
// staging a session.
func Normalize(input string) []string {
	matches := snowflakePattern.FindAllString(input, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	unique := make([]string, 0, len(matches))
	for _, id := range matches {
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	sort.Slice(unique, func(i, j int) bool {
		left, _ := new(big.Int).SetString(unique[i], 10)
		right, _ := new(big.Int).SetString(unique[j], 10)
		return left.Cmp(right) < 0
	})
	return unique
}

// First returns the first identifier-shaped substring in the input, or the
// empty string when none is present. Used to strip mention decoration from
// user-supplied ids.
func First(input string) string {
	return snowflakePattern.FindString(input)
}

// Valid reports whether the input is exactly one platform identifier.
func Valid(input string) bool {
	return snowflakePattern.FindString(input) == input
}
