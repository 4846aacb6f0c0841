// Package report renders the text artifacts the bot attaches to its
// announcements: wave progress bars, wave log files, and ticket
// transcripts.
package report

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/guildops/guildops/internal/gateway"
)

const (
	barWidth         = 20
	shortListPreview = 25
	previewLineMax   = 120
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Bar renders a fixed-width textual progress bar, e.g. "#####----- 50%".
func Bar(done, total int) string {
	if total <= 0 {
		return strings.Repeat("-", barWidth) + " 0%"
	}
	ratio := float64(done) / float64(total)
	filled := int(math.Round(ratio * barWidth))
	if filled < 0 {
		filled = 0
	}
	if filled > barWidth {
		filled = barWidth
	}
	percent := int(math.Round(ratio * 100))
	return fmt.Sprintf("%s%s %d%%",
		strings.Repeat("#", filled),
		strings.Repeat("-", barWidth-filled),
		percent)
}

// Progress renders the "Progress: done/total" line shown under a wave embed
// while targets are being processed.
func Progress(done, total int) string {
	return fmt.Sprintf("Progress: %d/%d\n%s", done, total, Bar(done, total))
}

// ShortList renders a labelled preview of at most 25 ids, with a "+N more"
// suffix for longer lists.
func ShortList(label string, ids []string) string {
	if len(ids) == 0 {
		return label + ": none"
	}
	preview := ids
	extra := ""
	if len(ids) > shortListPreview {
		preview = ids[:shortListPreview]
		extra = fmt.Sprintf(" ... +%d more", len(ids)-shortListPreview)
	}
	return fmt.Sprintf("%s: %s%s", label, strings.Join(preview, ", "), extra)
}

// WaveSummary is the outcome of a completed wave, grouped by target fate.
// Failed entries carry their reason inline as "id (reason)".
type WaveSummary struct {
	Title     string
	RunBy     string
	RunByID   string
	GuildName string
	GuildID   string
	SortedIDs []string
	Succeeded []string
	NotFound  []string
	Failed    []string
}

// Total returns the number of targets the wave processed.
func (s *WaveSummary) Total() int {
	return len(s.SortedIDs)
}

// Completion renders the short completion notice shown in-channel.
func (s *WaveSummary) Completion() string {
	return fmt.Sprintf("Total: %d\nSuccess: %d\nNot found: %d\nFailed: %d",
		s.Total(), len(s.Succeeded), len(s.NotFound), len(s.Failed))
}

// Fields returns the embed fields for the wave log message.
func (s *WaveSummary) Fields() []gateway.EmbedField {
	return []gateway.EmbedField{
		{Name: "Run by", Value: fmt.Sprintf("%s (%s)", s.RunBy, s.RunByID)},
		{Name: "Guild", Value: fmt.Sprintf("%s (%s)", s.GuildName, s.GuildID)},
		{Name: "Total IDs", Value: fmt.Sprintf("%d", s.Total()), Inline: true},
		{Name: "Success", Value: fmt.Sprintf("%d", len(s.Succeeded)), Inline: true},
		{Name: "Not found", Value: fmt.Sprintf("%d", len(s.NotFound)), Inline: true},
		{Name: "Failed", Value: fmt.Sprintf("%d", len(s.Failed)), Inline: true},
		{Name: "Summary", Value: ShortList("Success IDs", s.Succeeded) + "\n" + ShortList("Not found IDs", s.NotFound)},
	}
}

// Artifact renders the full plain-text log attached to the wave log message.
// Every id appears in exactly one outcome group.
func (s *WaveSummary) Artifact() string {
	lines := []string{
		fmt.Sprintf("Run by: %s (%s)", s.RunBy, s.RunByID),
		fmt.Sprintf("Guild: %s (%s)", s.GuildName, s.GuildID),
		fmt.Sprintf("Total IDs: %d", s.Total()),
		fmt.Sprintf("Success: %d", len(s.Succeeded)),
		fmt.Sprintf("Not found: %d", len(s.NotFound)),
		fmt.Sprintf("Failed: %d", len(s.Failed)),
		"",
		"Sorted IDs:",
	}
	lines = append(lines, orNone(s.SortedIDs)...)
	lines = append(lines, "", "Success IDs:")
	lines = append(lines, orNone(s.Succeeded)...)
	lines = append(lines, "", "Not found IDs:")
	lines = append(lines, orNone(s.NotFound)...)
	lines = append(lines, "", "Failed IDs:")
	lines = append(lines, orNone(s.Failed)...)
	return strings.Join(lines, "\n")
}

func orNone(ids []string) []string {
	if len(ids) == 0 {
		return []string{"none"}
	}
	return ids
}

// Transcript renders channel messages chronologically, one line per message,
// with whitespace runs collapsed. Non-text messages and empty lines get
// placeholders so every fetched message still occupies a line.
func Transcript(messages []*gateway.Message) string {
	sorted := sortByTime(messages)
	lines := make([]string, 0, len(sorted))
	for _, m := range sorted {
		content := flatten(m.Content)
		if content == "" {
			content = "[empty]"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			m.Timestamp.UTC().Format(time.RFC3339), m.AuthorTag, content))
	}
	if len(lines) == 0 {
		return "No messages."
	}
	return strings.Join(lines, "\n")
}

// TranscriptPreview renders an abbreviated transcript with no timestamps and
// each line capped at 120 characters.
func TranscriptPreview(messages []*gateway.Message) string {
	sorted := sortByTime(messages)
	lines := make([]string, 0, len(sorted))
	for _, m := range sorted {
		content := flatten(m.Content)
		if runes := []rune(content); len(runes) > previewLineMax {
			content = string(runes[:previewLineMax])
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.AuthorTag, content))
	}
	if len(lines) == 0 {
		return "No messages."
	}
	return strings.Join(lines, "\n")
}

func sortByTime(messages []*gateway.Message) []*gateway.Message {
	sorted := make([]*gateway.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

func flatten(content string) string {
	if content == "" {
		return "[non-text message]"
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(content, " "))
}

// TitleCase normalizes a stored label for display: words split on spaces,
// underscores, or hyphens, each capitalized. Empty input falls back, and an
// empty fallback renders as "N/A".
func TitleCase(value, fallback string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		raw = strings.TrimSpace(fallback)
	}
	if raw == "" {
		return "N/A"
	}
	words := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '_' || r == '-'
	})
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}
