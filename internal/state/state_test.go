package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "tickets-state.json")
	s, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestLoadMissingFileIsEmptyDocument(t *testing.T) {
	s := newTestStore(t)
	if cfg := s.Config("guild-1"); cfg != nil {
		t.Errorf("fresh store should have no config, got %+v", cfg)
	}
	if _, _, ok := s.FindOpenTicket("guild-1", "user-1"); ok {
		t.Error("fresh store should have no tickets")
	}
}

func TestMutationsFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := s.MergeConfig("guild-1", &TicketConfig{
		PanelChannelID: "panel",
		CategoryID:     "category",
		SupportRoleID:  "support",
	}); err != nil {
		t.Fatalf("MergeConfig: %v", err)
	}
	if err := s.PutTicket("chan-1", &Ticket{
		GuildID:      "guild-1",
		OpenerID:     "user-1",
		TicketNumber: 1,
		Status:       Open,
		Priority:     "normal",
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("PutTicket: %v", err)
	}

	// Every mutation flushes synchronously; a reload sees everything.
	reloaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg := reloaded.Config("guild-1")
	if cfg == nil || cfg.PanelChannelID != "panel" {
		t.Fatalf("config not persisted: %+v", cfg)
	}
	ticket, ok := reloaded.Ticket("chan-1")
	if !ok || ticket.OpenerID != "user-1" || ticket.Status.Kind != StatusOpen {
		t.Fatalf("ticket not persisted: %+v", ticket)
	}
}

func TestMergeConfigPartialOverwrite(t *testing.T) {
	s := newTestStore(t)

	if err := s.MergeConfig("guild-1", &TicketConfig{
		PanelChannelID: "panel",
		CategoryID:     "category",
		SupportRoleID:  "support",
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeConfig("guild-1", &TicketConfig{LogChannelID: "logs"}); err != nil {
		t.Fatal(err)
	}

	cfg := s.Config("guild-1")
	if cfg.PanelChannelID != "panel" || cfg.SupportRoleID != "support" {
		t.Errorf("merge dropped existing fields: %+v", cfg)
	}
	if cfg.LogChannelID != "logs" {
		t.Errorf("merge did not apply new field: %+v", cfg)
	}
	if cfg.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
}

func TestNextTicketNumberMonotonicPerGuild(t *testing.T) {
	s := newTestStore(t)

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextTicketNumber("guild-1")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ticket number = %d, want %d", got, want)
		}
	}

	// Counters are independent per guild.
	got, err := s.NextTicketNumber("guild-2")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("guild-2 counter = %d, want 1", got)
	}
}

func TestFindOpenTicketScopedToGuildAndOpener(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutTicket("chan-1", &Ticket{GuildID: "g1", OpenerID: "u1"}); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := s.FindOpenTicket("g1", "u2"); ok {
		t.Error("different opener should not match")
	}
	if _, _, ok := s.FindOpenTicket("g2", "u1"); ok {
		t.Error("different guild should not match")
	}
	channelID, ticket, ok := s.FindOpenTicket("g1", "u1")
	if !ok || channelID != "chan-1" || ticket.OpenerID != "u1" {
		t.Errorf("expected match, got %q %+v %v", channelID, ticket, ok)
	}
}

func TestAppendLogCapAndOrder(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= MaxLogEntries+10; i++ {
		err := s.AppendLog("guild-1", &LogEntry{Type: "opened", TicketNumber: int64(i)})
		if err != nil {
			t.Fatal(err)
		}
	}

	logs := s.Logs("guild-1")
	if len(logs) != MaxLogEntries {
		t.Fatalf("log length = %d, want %d", len(logs), MaxLogEntries)
	}
	// Newest first; the oldest ten entries were evicted.
	if logs[0].TicketNumber != MaxLogEntries+10 {
		t.Errorf("newest entry = %d, want %d", logs[0].TicketNumber, MaxLogEntries+10)
	}
	if logs[len(logs)-1].TicketNumber != 11 {
		t.Errorf("oldest surviving entry = %d, want 11", logs[len(logs)-1].TicketNumber)
	}
	if logs[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
}

func TestUpdateTicketUnknownChannel(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateTicket("missing", func(ticket *Ticket) error { return nil })
	if err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestUpdateRollsBackNothingOnError(t *testing.T) {
	s := newTestStore(t)
	wantErr := fmt.Errorf("no")
	err := s.Update(func(doc *Document) error { return wantErr })
	if err != wantErr {
		t.Errorf("Update error = %v, want %v", err, wantErr)
	}
}

func TestTicketCopiesAreIsolated(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutTicket("chan-1", &Ticket{GuildID: "g1", OpenerID: "u1", Priority: "normal"}); err != nil {
		t.Fatal(err)
	}

	ticket, _ := s.Ticket("chan-1")
	ticket.Priority = "urgent"

	again, _ := s.Ticket("chan-1")
	if again.Priority != "normal" {
		t.Error("mutating a returned copy must not affect the store")
	}
}

func TestDocumentShapeOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.NextTicketNumber("guild-1"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	for _, key := range []string{"configs", "counters", "openTickets", "logs"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("state file missing top-level %q map", key)
		}
	}
}

func TestCustomStatusTruncation(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	status := CustomStatus(string(long))
	if len(status.Label) != 120 {
		t.Errorf("label length = %d, want 120", len(status.Label))
	}
	if status.Kind != StatusCustom {
		t.Errorf("kind = %s, want custom", status.Kind)
	}

	// Multi-byte labels truncate on rune boundaries.
	wide := CustomStatus(strings.Repeat("ü", 150))
	if !utf8.ValidString(wide.Label) {
		t.Errorf("label is not valid UTF-8: %q", wide.Label)
	}
	if got := utf8.RuneCountInString(wide.Label); got != 120 {
		t.Errorf("label length = %d runes, want 120", got)
	}
}
