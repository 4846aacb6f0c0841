// Package state owns the durable on-disk document backing the ticket system:
// per-guild configuration, ticket counters, open tickets, and the capped
// per-guild event log.
//
// The whole document is read into memory at startup and rewritten
// synchronously after every mutation. A single mutex makes the single-writer
// guarantee explicit: each mutation is a locked read-modify-write over the
// in-memory document followed by a flush, so the safety does not depend on
// scheduling accidents. This is a single-process store; it is not safe to
// share the file between processes.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxLogEntries caps the per-guild ticket log; the oldest entries drop first.
const MaxLogEntries = 300

// StatusKind tags the meaningful ticket states while the display label stays
// free text.
type StatusKind string

const (
	StatusOpen          StatusKind = "open"
	StatusClaimed       StatusKind = "claimed"
	StatusDone          StatusKind = "done"
	StatusUserConfirmed StatusKind = "user-confirmed"
	StatusClosed        StatusKind = "closed"
	StatusCustom        StatusKind = "custom"
)

// Status is a tagged ticket status: a checkable kind plus the free-text
// display label the platform shows.
type Status struct {
	Kind  StatusKind `json:"kind"`
	Label string     `json:"label"`
}

// Canonical status values.
var (
	Open          = Status{Kind: StatusOpen, Label: "Open"}
	Claimed       = Status{Kind: StatusClaimed, Label: "Claimed"}
	Done          = Status{Kind: StatusDone, Label: "Done"}
	UserConfirmed = Status{Kind: StatusUserConfirmed, Label: "User Confirmed"}
	Closed        = Status{Kind: StatusClosed, Label: "Closed"}
)

// CustomStatus builds a free-text status, truncated to 120 characters.
func CustomStatus(text string) Status {
	if runes := []rune(text); len(runes) > 120 {
		text = string(runes[:120])
	}
	return Status{Kind: StatusCustom, Label: text}
}

// Display returns the text shown to users.
func (s Status) Display() string {
	if s.Label != "" {
		return s.Label
	}
	return string(s.Kind)
}

// TicketConfig is the per-guild ticket system configuration.
type TicketConfig struct {
	PanelChannelID   string    `json:"panelChannelId"`
	CategoryID       string    `json:"categoryId"`
	SupportRoleID    string    `json:"supportRoleId,omitempty"`
	LogChannelID     string    `json:"logChannelId,omitempty"`
	PanelTitle       string    `json:"panelTitle,omitempty"`
	PanelDescription string    `json:"panelDescription,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Ticket is one open support ticket, keyed in the document by its channel id.
type Ticket struct {
	GuildID             string    `json:"guildId"`
	OpenerID            string    `json:"openerId"`
	TicketNumber        int64     `json:"ticketNumber"`
	Status              Status    `json:"status"`
	Priority            string    `json:"priority"`
	ClaimedBy           string    `json:"claimedBy,omitempty"`
	FirstResponseAt     time.Time `json:"firstResponseAt,omitzero"`
	CloseReason         string    `json:"closeReason,omitempty"`
	TradeDetails        string    `json:"tradeDetails,omitempty"`
	TradeTargetRaw      string    `json:"tradeTargetRaw,omitempty"`
	TradePartnerID      string    `json:"tradePartnerId,omitempty"`
	PendingTradePartner string    `json:"pendingTradePartnerId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// LogEntry is one record in the append-only per-guild ticket log.
type LogEntry struct {
	Type         string    `json:"type"` // "opened" or "closed"
	TicketNumber int64     `json:"ticketNumber"`
	OpenerID     string    `json:"openerId"`
	ChannelID    string    `json:"channelId"`
	Status       string    `json:"status,omitempty"`
	ClosedBy     string    `json:"closedBy,omitempty"`
	CloseReason  string    `json:"closeReason,omitempty"`
	Priority     string    `json:"priority,omitempty"`
	ClaimedBy    string    `json:"claimedBy,omitempty"`
	TradeDetails string    `json:"tradeDetails,omitempty"`
	TradeTarget  string    `json:"tradeTargetRaw,omitempty"`
	TradePartner string    `json:"tradePartnerId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Document is the full persisted state.
type Document struct {
	Configs     map[string]*TicketConfig `json:"configs"`
	Counters    map[string]int64         `json:"counters"`
	OpenTickets map[string]*Ticket       `json:"openTickets"`
	Logs        map[string][]*LogEntry   `json:"logs"`
}

func newDocument() *Document {
	return &Document{
		Configs:     make(map[string]*TicketConfig),
		Counters:    make(map[string]int64),
		OpenTickets: make(map[string]*Ticket),
		Logs:        make(map[string][]*LogEntry),
	}
}

// Store is the single writer of the persisted document.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	doc *Document
}

// Load opens the store at path. A missing file is an empty initial document,
// not an error.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:   path,
		logger: logger.With("component", "state"),
		now:    time.Now,
		doc:    newDocument(),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if doc.Configs == nil {
		doc.Configs = make(map[string]*TicketConfig)
	}
	if doc.Counters == nil {
		doc.Counters = make(map[string]int64)
	}
	if doc.OpenTickets == nil {
		doc.OpenTickets = make(map[string]*Ticket)
	}
	if doc.Logs == nil {
		doc.Logs = make(map[string][]*LogEntry)
	}
	s.doc = &doc

	s.logger.Info("state loaded",
		"path", path,
		"guilds", len(doc.Configs),
		"open_tickets", len(doc.OpenTickets))
	return s, nil
}

// SetNowFunc overrides the clock for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.now = fn
}

// Update runs fn against the document under the store lock and flushes the
// whole document on success. It is the single mutation entry point.
func (s *Store) Update(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.doc); err != nil {
		return err
	}
	return s.flushLocked()
}

// View runs fn against the document under the store lock without flushing.
// fn must not retain or mutate the document.
func (s *Store) View(fn func(doc *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// Config returns a copy of the guild's ticket configuration, or nil when the
// guild is not configured.
func (s *Store) Config(guildID string) *TicketConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.doc.Configs[guildID]
	if !ok {
		return nil
	}
	clone := *cfg
	return &clone
}

// MergeConfig overlays the non-empty fields of update onto the guild's
// configuration, creating it when absent, and stamps UpdatedAt.
func (s *Store) MergeConfig(guildID string, update *TicketConfig) error {
	return s.Update(func(doc *Document) error {
		cfg, ok := doc.Configs[guildID]
		if !ok {
			cfg = &TicketConfig{}
			doc.Configs[guildID] = cfg
		}
		if update.PanelChannelID != "" {
			cfg.PanelChannelID = update.PanelChannelID
		}
		if update.CategoryID != "" {
			cfg.CategoryID = update.CategoryID
		}
		if update.SupportRoleID != "" {
			cfg.SupportRoleID = update.SupportRoleID
		}
		if update.LogChannelID != "" {
			cfg.LogChannelID = update.LogChannelID
		}
		if update.PanelTitle != "" {
			cfg.PanelTitle = update.PanelTitle
		}
		if update.PanelDescription != "" {
			cfg.PanelDescription = update.PanelDescription
		}
		cfg.UpdatedAt = s.now()
		return nil
	})
}

// NextTicketNumber allocates the guild's next ticket number, starting at 1.
func (s *Store) NextTicketNumber(guildID string) (int64, error) {
	var next int64
	err := s.Update(func(doc *Document) error {
		next = doc.Counters[guildID] + 1
		doc.Counters[guildID] = next
		return nil
	})
	return next, err
}

// Ticket returns a copy of the open ticket for the channel.
func (s *Store) Ticket(channelID string) (*Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.doc.OpenTickets[channelID]
	if !ok {
		return nil, false
	}
	clone := *t
	return &clone, true
}

// FindOpenTicket returns the channel id and a copy of the guild/opener pair's
// open ticket, if any.
func (s *Store) FindOpenTicket(guildID, openerID string) (string, *Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for channelID, t := range s.doc.OpenTickets {
		if t.GuildID == guildID && t.OpenerID == openerID {
			clone := *t
			return channelID, &clone, true
		}
	}
	return "", nil, false
}

// PutTicket records an open ticket for the channel.
func (s *Store) PutTicket(channelID string, t *Ticket) error {
	return s.Update(func(doc *Document) error {
		clone := *t
		doc.OpenTickets[channelID] = &clone
		return nil
	})
}

// UpdateTicket mutates the channel's open ticket under the lock.
func (s *Store) UpdateTicket(channelID string, fn func(t *Ticket) error) error {
	return s.Update(func(doc *Document) error {
		t, ok := doc.OpenTickets[channelID]
		if !ok {
			return fmt.Errorf("no open ticket for channel %s", channelID)
		}
		return fn(t)
	})
}

// DeleteTicket removes the channel's open ticket. Deleting an absent ticket
// is not an error.
func (s *Store) DeleteTicket(channelID string) error {
	return s.Update(func(doc *Document) error {
		delete(doc.OpenTickets, channelID)
		return nil
	})
}

// OpenTicketCount returns the number of open tickets for the guild.
func (s *Store) OpenTicketCount(guildID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, t := range s.doc.OpenTickets {
		if t.GuildID == guildID {
			count++
		}
	}
	return count
}

// AppendLog prepends an entry to the guild's ticket log, evicting the oldest
// entries beyond MaxLogEntries, and stamps CreatedAt.
func (s *Store) AppendLog(guildID string, entry *LogEntry) error {
	return s.Update(func(doc *Document) error {
		clone := *entry
		clone.CreatedAt = s.now()

		entries := append([]*LogEntry{&clone}, doc.Logs[guildID]...)
		if len(entries) > MaxLogEntries {
			entries = entries[:MaxLogEntries]
		}
		doc.Logs[guildID] = entries
		return nil
	})
}

// Logs returns a copy of the guild's ticket log, newest first.
func (s *Store) Logs(guildID string) []*LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.doc.Logs[guildID]
	out := make([]*LogEntry, len(entries))
	for i, e := range entries {
		clone := *e
		out[i] = &clone
	}
	return out
}

// flushLocked writes the whole document to disk. Must be called with the
// store lock held.
func (s *Store) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
