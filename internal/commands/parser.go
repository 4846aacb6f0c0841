package commands

import (
	"strings"
)

// DefaultPrefix is the command prefix used when none is configured.
const DefaultPrefix = "!"

// Parser detects and parses prefix commands at the start of a message.
type Parser struct {
	prefixes []string
}

// NewParser creates a parser for the given prefixes.
func NewParser(prefixes ...string) *Parser {
	if len(prefixes) == 0 {
		prefixes = []string{DefaultPrefix}
	}
	return &Parser{prefixes: prefixes}
}

// Parse extracts a command from message text. It returns nil when the text
// does not start with a recognized prefix followed by a letter.
func (p *Parser) Parse(text string) *ParsedCommand {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	prefix := p.matchPrefix(text)
	if prefix == "" {
		return nil
	}

	name, args := SplitCommandArgs(text[len(prefix):])
	if name == "" {
		return nil
	}
	return &ParsedCommand{
		Name:   name,
		Args:   args,
		Prefix: prefix,
	}
}

// IsCommand reports whether the text starts with a command.
func (p *Parser) IsCommand(text string) bool {
	return p.matchPrefix(strings.TrimSpace(text)) != ""
}

// matchPrefix returns the matching prefix, requiring a letter right after it
// so stray punctuation is not mistaken for a command.
func (p *Parser) matchPrefix(text string) string {
	for _, prefix := range p.prefixes {
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		if len(text) > len(prefix) {
			next := text[len(prefix)]
			if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') {
				return prefix
			}
		}
	}
	return ""
}

// SplitCommandArgs splits command text into a lowercased name and its args.
func SplitCommandArgs(text string) (name, args string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}

	parts := strings.SplitN(text, " ", 2)
	name = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}
