package resolve

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/guildops/guildops/internal/gateway"
)

// mockGateway implements the member-lookup subset used by the resolver.
type mockGateway struct {
	gateway.Gateway

	members map[string]*gateway.Member
	search  []*gateway.Member

	searchQuery string
	searchLimit int
}

func (m *mockGateway) Member(ctx context.Context, guildID, userID string) (*gateway.Member, error) {
	if member, ok := m.members[userID]; ok {
		return member, nil
	}
	return nil, gateway.ErrNotFound("unknown member", nil)
}

func (m *mockGateway) SearchMembers(ctx context.Context, guildID, query string, limit int) ([]*gateway.Member, error) {
	m.searchQuery = query
	m.searchLimit = limit
	return m.search, nil
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	if d := Distance("John_Doe", "johndoe"); d != 0 {
		t.Errorf("normalized-equal strings must have distance 0, got %d", d)
	}
	if Distance("kitten", "sitting") != Distance("sitting", "kitten") {
		t.Error("distance must be symmetric")
	}
	// Classic example on already-normalized strings.
	if d := Distance("kitten", "sitting"); d != 3 {
		t.Errorf("kitten/sitting distance = %d, want 3", d)
	}
	if d := Distance("", "abc"); d != 3 {
		t.Errorf("empty/abc distance = %d, want 3", d)
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"John_Doe":   "johndoe",
		"Trader #42": "trader42",
		"":           "",
		"---":        "",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveExactID(t *testing.T) {
	target := &gateway.Member{ID: "123456789012345678", Username: "trader"}
	gw := &mockGateway{members: map[string]*gateway.Member{target.ID: target}}

	match, err := New(gw, nil).Resolve(context.Background(), "guild-1", "<@123456789012345678>")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if match == nil || match.Confidence != ConfidenceExactID {
		t.Fatalf("expected exact-id match, got %+v", match)
	}
	if match.Member.ID != target.ID {
		t.Errorf("wrong member resolved: %s", match.Member.ID)
	}
}

func TestResolveExactName(t *testing.T) {
	gw := &mockGateway{search: []*gateway.Member{
		{ID: "1", Username: "someone_else"},
		{ID: "2", Username: "John_Doe", DisplayName: "John_Doe", Tag: "John_Doe#1234"},
	}}

	match, err := New(gw, nil).Resolve(context.Background(), "guild-1", "johndoe")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if match == nil || match.Confidence != ConfidenceExactName {
		t.Fatalf("expected exact-name match, got %+v", match)
	}
	if match.Member.ID != "2" {
		t.Errorf("wrong member resolved: %s", match.Member.ID)
	}
}

func TestResolveClosestMatch(t *testing.T) {
	gw := &mockGateway{search: []*gateway.Member{
		{ID: "1", Username: "completely_unrelated"},
		{ID: "2", Username: "tradder"},
	}}

	match, err := New(gw, nil).Resolve(context.Background(), "guild-1", "trader")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if match == nil || match.Confidence != ConfidenceClosest {
		t.Fatalf("expected closest match, got %+v", match)
	}
	if match.Member.ID != "2" {
		t.Errorf("wrong member resolved: %s", match.Member.ID)
	}
}

func TestResolveTieKeepsSearchOrder(t *testing.T) {
	// Both candidates are distance 1 from the query; the earlier result wins.
	gw := &mockGateway{search: []*gateway.Member{
		{ID: "1", Username: "tradex"},
		{ID: "2", Username: "tradey"},
	}}

	match, err := New(gw, nil).Resolve(context.Background(), "guild-1", "trade")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if match.Member.ID != "1" {
		t.Errorf("tie should keep search order, got %s", match.Member.ID)
	}
}

func TestResolveNoCandidates(t *testing.T) {
	gw := &mockGateway{}
	match, err := New(gw, nil).Resolve(context.Background(), "guild-1", "ghost")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if match != nil {
		t.Errorf("expected nil match, got %+v", match)
	}
}

func TestResolveEmptyQuery(t *testing.T) {
	match, err := New(&mockGateway{}, nil).Resolve(context.Background(), "guild-1", "   ")
	if err != nil || match != nil {
		t.Errorf("blank query should resolve to nothing, got %+v, %v", match, err)
	}
}

func TestResolveQueryBounds(t *testing.T) {
	gw := &mockGateway{search: []*gateway.Member{{ID: "1", Username: "x"}}}
	long := "abcdefghijklmnopqrstuvwxyz0123456789extra"

	if _, err := New(gw, nil).Resolve(context.Background(), "guild-1", long); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if utf8.RuneCountInString(gw.searchQuery) != maxQueryLen {
		t.Errorf("query not truncated: %d chars", utf8.RuneCountInString(gw.searchQuery))
	}
	if gw.searchLimit != maxCandidates {
		t.Errorf("search limit = %d, want %d", gw.searchLimit, maxCandidates)
	}
}

func TestResolveQueryTruncatesOnRuneBoundary(t *testing.T) {
	gw := &mockGateway{search: []*gateway.Member{{ID: "1", Username: "x"}}}
	long := strings.Repeat("ü", maxQueryLen+5)

	if _, err := New(gw, nil).Resolve(context.Background(), "guild-1", long); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !utf8.ValidString(gw.searchQuery) {
		t.Errorf("search query is not valid UTF-8: %q", gw.searchQuery)
	}
	if got := utf8.RuneCountInString(gw.searchQuery); got != maxQueryLen {
		t.Errorf("query length = %d runes, want %d", got, maxQueryLen)
	}
}

func TestResolveUnresolvedIDFallsBackToSearch(t *testing.T) {
	gw := &mockGateway{search: []*gateway.Member{{ID: "9", Username: "someone"}}}

	match, err := New(gw, nil).Resolve(context.Background(), "guild-1", "123456789012345678")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if match == nil || match.Member.ID != "9" {
		t.Fatalf("expected search fallback, got %+v", match)
	}
}
