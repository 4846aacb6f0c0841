// Package resolve maps a free-text "who are we trading with" string to the
// best-matching community member.
//
// Resolution tries, in order: direct id lookup, exact normalized-name match,
// and Levenshtein closest match over a bounded member search. A closest match
// carries no distance threshold; it is surfaced to a human for confirmation
// rather than trusted outright.
package resolve

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/ids"
)

const (
	// maxCandidates bounds the member search.
	maxCandidates = 20

	// maxQueryLen truncates the search query sent to the platform.
	maxQueryLen = 32
)

// Confidence labels the quality of a resolved match.
type Confidence string

const (
	// ConfidenceExactID means the query contained the member's id.
	ConfidenceExactID Confidence = "exact-id"

	// ConfidenceExactName means a normalized name matched exactly.
	ConfidenceExactName Confidence = "exact-name"

	// ConfidenceClosest means the member had the smallest edit distance.
	// It may still be a poor match and requires human confirmation.
	ConfidenceClosest Confidence = "closest-match"
)

// Exact reports whether the confidence tier is trustworthy without
// confirmation.
func (c Confidence) Exact() bool {
	return c == ConfidenceExactID || c == ConfidenceExactName
}

// Match is a resolved member with its confidence tier.
type Match struct {
	Member     *gateway.Member
	Confidence Confidence
}

// Resolver resolves counterpart identities through the platform gateway.
type Resolver struct {
	gw     gateway.Gateway
	logger *slog.Logger
}

// New creates a Resolver.
func New(gw gateway.Gateway, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{gw: gw, logger: logger.With("component", "resolve")}
}

// Resolve finds the best-matching member for the query. It returns nil with a
// nil error when no candidate exists at all.
func (r *Resolver) Resolve(ctx context.Context, guildID, query string) (*Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if id := ids.First(query); id != "" {
		member, err := r.gw.Member(ctx, guildID, id)
		if err == nil && member != nil {
			return &Match{Member: member, Confidence: ConfidenceExactID}, nil
		}
		if err != nil && !gateway.IsNotFound(err) {
			return nil, err
		}
		// Fall through to a name search when the id does not resolve.
	}

	truncated := query
	if runes := []rune(truncated); len(runes) > maxQueryLen {
		truncated = string(runes[:maxQueryLen])
	}

	candidates, err := r.gw.SearchMembers(ctx, guildID, truncated, maxCandidates)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	normalizedQuery := NormalizeName(query)
	for _, member := range candidates {
		if NormalizeName(member.Username) == normalizedQuery ||
			NormalizeName(member.DisplayName) == normalizedQuery ||
			NormalizeName(member.Tag) == normalizedQuery {
			return &Match{Member: member, Confidence: ConfidenceExactName}, nil
		}
	}

	best := candidates[0]
	bestScore := memberScore(query, best)
	for _, member := range candidates[1:] {
		// Ties keep the earlier search result.
		if score := memberScore(query, member); score < bestScore {
			best = member
			bestScore = score
		}
	}

	r.logger.Debug("closest-match resolution",
		"query", query,
		"member_id", best.ID,
		"distance", bestScore)

	return &Match{Member: best, Confidence: ConfidenceClosest}, nil
}

// memberScore is the minimum edit distance across the member's username,
// display name, and tag.
func memberScore(query string, member *gateway.Member) int {
	score := Distance(query, member.Username)
	if d := Distance(query, member.DisplayName); d < score {
		score = d
	}
	if d := Distance(query, member.Tag); d < score {
		score = d
	}
	return score
}

// NormalizeName lowercases the input and strips every non-alphanumeric rune,
// so "John_Doe" and "johndoe" compare equal.
func NormalizeName(input string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(input) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Distance is the Levenshtein edit distance between the normalized forms of a
// and b, computed with the full dynamic-programming table. No early
// termination or threshold is applied.
func Distance(a, b string) int {
	left := []rune(NormalizeName(a))
	right := []rune(NormalizeName(b))

	rows, cols := len(left)+1, len(right)+1
	matrix := make([][]int, rows)
	for i := range matrix {
		matrix[i] = make([]int, cols)
		matrix[i][0] = i
	}
	for j := 0; j < cols; j++ {
		matrix[0][j] = j
	}

	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			cost := 1
			if left[i-1] == right[j-1] {
				cost = 0
			}
			deletion := matrix[i-1][j] + 1
			insertion := matrix[i][j-1] + 1
			substitution := matrix[i-1][j-1] + cost

			min := deletion
			if insertion < min {
				min = insertion
			}
			if substitution < min {
				min = substitution
			}
			matrix[i][j] = min
		}
	}
	return matrix[rows-1][cols-1]
}
