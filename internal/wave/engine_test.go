package wave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guildops/guildops/internal/gateway"
)

// mockGateway implements gateway.Gateway with overridable behavior and call
// recording for the operations waves touch.
type mockGateway struct {
	gateway.Gateway

	memberFunc func(guildID, userID string) (*gateway.Member, error)
	rolesFunc  func(guildID string) ([]*gateway.Role, error)
	sendErr    error

	mu      sync.Mutex
	removed []string // "userID:roleID:reason"
	added   []string
	sent    []*gateway.Outbound
}

func (m *mockGateway) Member(_ context.Context, guildID, userID string) (*gateway.Member, error) {
	return m.memberFunc(guildID, userID)
}

func (m *mockGateway) Roles(_ context.Context, guildID string) ([]*gateway.Role, error) {
	return m.rolesFunc(guildID)
}

func (m *mockGateway) AddRole(_ context.Context, _, userID, roleID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, fmt.Sprintf("%s:%s:%s", userID, roleID, reason))
	return nil
}

func (m *mockGateway) RemoveRole(_ context.Context, _, userID, roleID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, fmt.Sprintf("%s:%s:%s", userID, roleID, reason))
	return nil
}

func (m *mockGateway) Send(_ context.Context, _ string, out *gateway.Outbound) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, out)
	return nil
}

func (m *mockGateway) removedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.removed)
}

const testGuildID = "900000000000000001"

// ladder is a guild role hierarchy: everyone, then recruit < member < veteran,
// plus a managed bot role and a role above the bot's reach.
func ladder() []*gateway.Role {
	return []*gateway.Role{
		{ID: testGuildID, Name: "@everyone", Position: 0, Editable: true},
		{ID: "r1", Name: "Recruit", Position: 1, Editable: true},
		{ID: "r2", Name: "Member", Position: 2, Editable: true},
		{ID: "r3", Name: "Veteran", Position: 3, Editable: true},
		{ID: "rb", Name: "SomeBot", Position: 4, Managed: true, Editable: false},
		{ID: "r5", Name: "Admin", Position: 5, Editable: false},
	}
}

func newTestEngine(t *testing.T, gw gateway.Gateway, logChannelID string) *Engine {
	t.Helper()
	store := NewSessionStore(DefaultSessionTTL, nil)
	engine, err := NewEngine(Config{
		Gateway:      gw,
		Store:        store,
		StepDelay:    time.Nanosecond,
		LogChannelID: logChannelID,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestStageNormalizesTargets(t *testing.T) {
	engine := newTestEngine(t, &mockGateway{}, "")

	raw := "<@100000000000000002> junk 100000000000000001 100000000000000002"
	session, err := engine.Stage("staff-1", testGuildID, KindDemote, raw)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	want := []string{"100000000000000001", "100000000000000002"}
	if len(session.TargetIDs) != 2 || session.TargetIDs[0] != want[0] || session.TargetIDs[1] != want[1] {
		t.Errorf("targets = %v, want %v", session.TargetIDs, want)
	}
}

func TestStageRejectsTextWithoutIDs(t *testing.T) {
	engine := newTestEngine(t, &mockGateway{}, "")

	_, err := engine.Stage("staff-1", testGuildID, KindDemote, "no ids here 12345")
	if gateway.GetErrorCode(err) != gateway.ErrCodeInvalidInput {
		t.Errorf("error = %v, want invalid input", err)
	}
}

func TestSessionTTLBoundary(t *testing.T) {
	store := NewSessionStore(DefaultSessionTTL, nil)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	now := base
	store.SetNowFunc(func() time.Time { return now })

	if err := store.Put("staff-1", &Session{
		TargetIDs: []string{"100000000000000001"},
		GuildID:   testGuildID,
		Kind:      KindDemote,
	}); err != nil {
		t.Fatal(err)
	}

	now = base.Add(DefaultSessionTTL - time.Millisecond)
	if _, err := store.Get("staff-1", testGuildID); err != nil {
		t.Errorf("session inside TTL rejected: %v", err)
	}

	now = base.Add(DefaultSessionTTL + time.Millisecond)
	if _, err := store.Get("staff-1", testGuildID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expired session error = %v, want ErrSessionExpired", err)
	}

	// Expired session was removed, not just refused.
	if _, err := store.Get("staff-1", testGuildID); !errors.Is(err, ErrNoSession) {
		t.Errorf("after expiry error = %v, want ErrNoSession", err)
	}
}

func TestSessionGuildScope(t *testing.T) {
	store := NewSessionStore(DefaultSessionTTL, nil)
	if err := store.Put("staff-1", &Session{
		TargetIDs: []string{"100000000000000001"},
		GuildID:   testGuildID,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get("staff-1", "other-guild"); !errors.Is(err, ErrWrongGuild) {
		t.Errorf("cross-guild error = %v, want ErrWrongGuild", err)
	}
	// The session stays usable in its own guild.
	if _, err := store.Get("staff-1", testGuildID); err != nil {
		t.Errorf("same-guild get failed: %v", err)
	}
}

func TestSessionTakeConsumes(t *testing.T) {
	store := NewSessionStore(DefaultSessionTTL, nil)
	if err := store.Put("staff-1", &Session{
		TargetIDs: []string{"100000000000000001"},
		GuildID:   testGuildID,
		Kind:      KindDemote,
	}); err != nil {
		t.Fatal(err)
	}

	session, err := store.Take("staff-1", testGuildID)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if session.Kind != KindDemote {
		t.Errorf("kind = %q", session.Kind)
	}
	if _, err := store.Take("staff-1", testGuildID); !errors.Is(err, ErrNoSession) {
		t.Errorf("second take error = %v, want ErrNoSession", err)
	}
}

func TestSessionTakeRemovesExpired(t *testing.T) {
	store := NewSessionStore(DefaultSessionTTL, nil)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	now := base
	store.SetNowFunc(func() time.Time { return now })

	store.Put("staff-1", &Session{TargetIDs: []string{"1"}, GuildID: testGuildID})
	now = base.Add(DefaultSessionTTL + time.Millisecond)

	if _, err := store.Take("staff-1", testGuildID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expired take error = %v, want ErrSessionExpired", err)
	}
	if _, err := store.Take("staff-1", testGuildID); !errors.Is(err, ErrNoSession) {
		t.Errorf("after expiry error = %v, want ErrNoSession", err)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	store := NewSessionStore(DefaultSessionTTL, nil)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	now := base
	store.SetNowFunc(func() time.Time { return now })

	store.Put("old", &Session{TargetIDs: []string{"1"}, GuildID: testGuildID})
	now = base.Add(9 * time.Minute)
	store.Put("fresh", &Session{TargetIDs: []string{"2"}, GuildID: testGuildID})
	now = base.Add(11 * time.Minute)

	if removed := store.Sweep(); removed != 1 {
		t.Errorf("swept %d sessions, want 1", removed)
	}
	if _, err := store.Get("fresh", testGuildID); err != nil {
		t.Errorf("fresh session swept: %v", err)
	}
	if _, err := store.Get("old", testGuildID); !errors.Is(err, ErrNoSession) {
		t.Errorf("old session survived sweep: %v", err)
	}
}

func TestExecuteDemoteMovesMemberDownOneRole(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r3"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	if _, err := engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001"); err != nil {
		t.Fatal(err)
	}
	result, err := engine.Execute(context.Background(), &Request{
		RequesterID: "staff-1",
		ActorTag:    "mod#0",
		GuildID:     testGuildID,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(result.Succeeded) != 1 || len(result.Failed) != 0 || len(result.NotFound) != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(gw.removed) != 1 || gw.removed[0] != "100000000000000001:r3:Demo wave by mod#0" {
		t.Errorf("removed = %v", gw.removed)
	}
	if len(gw.added) != 1 || gw.added[0] != "100000000000000001:r2:Demo wave by mod#0" {
		t.Errorf("added = %v", gw.added)
	}
}

func TestExecuteDemoteSkipsAddWhenAlreadyHeld(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r2", "r3"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001")
	result, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Succeeded) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(gw.removed) != 1 {
		t.Errorf("removed = %v", gw.removed)
	}
	if len(gw.added) != 0 {
		t.Errorf("add should be skipped for a held role: %v", gw.added)
	}
}

func TestExecutePromoteMovesMemberUpOneRole(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r1"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	engine.Stage("staff-1", testGuildID, KindPromote, "100000000000000001")
	result, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Succeeded) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if gw.removed[0] != "100000000000000001:r1:Promo wave by mod#0" {
		t.Errorf("removed = %v", gw.removed)
	}
	if gw.added[0] != "100000000000000001:r2:Promo wave by mod#0" {
		t.Errorf("added = %v", gw.added)
	}
}

func TestExecutePromoteAtCeilingFailsWithoutMutation(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			// r3 is the highest editable non-managed role.
			return &gateway.Member{ID: userID, RoleIDs: []string{"r3"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	engine.Stage("staff-1", testGuildID, KindPromote, "100000000000000001")
	result, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID})
	if err != nil {
		t.Fatal(err)
	}

	want := "100000000000000001 (no higher assignable role found)"
	if len(result.Failed) != 1 || result.Failed[0] != want {
		t.Errorf("failed = %v, want [%s]", result.Failed, want)
	}
	if len(gw.removed) != 0 || len(gw.added) != 0 {
		t.Error("failed plan must not mutate roles")
	}
}

func TestExecuteDemoteAtFloorFailsWithoutMutation(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r1"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001")
	result, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID})
	if err != nil {
		t.Fatal(err)
	}

	want := "100000000000000001 (no lower assignable role found)"
	if len(result.Failed) != 1 || result.Failed[0] != want {
		t.Errorf("failed = %v, want [%s]", result.Failed, want)
	}
	if len(gw.removed) != 0 {
		t.Error("failed plan must not mutate roles")
	}
}

func TestExecuteMemberWithNoRoles(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001")
	result, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID})
	if err != nil {
		t.Fatal(err)
	}

	want := "100000000000000001 (no removable role found)"
	if len(result.Failed) != 1 || result.Failed[0] != want {
		t.Errorf("failed = %v, want [%s]", result.Failed, want)
	}
}

func TestExecuteMissingMemberGoesToNotFound(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			if userID == "100000000000000001" {
				return nil, gateway.ErrNotFound("unknown member", nil)
			}
			return &gateway.Member{ID: userID, RoleIDs: []string{"r2"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001 100000000000000002")
	result, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.NotFound) != 1 || result.NotFound[0] != "100000000000000001" {
		t.Errorf("notFound = %v", result.NotFound)
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0] != "100000000000000002" {
		t.Errorf("succeeded = %v", result.Succeeded)
	}
}

func TestExecuteConsumesSession(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r2"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001")
	if _, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID}); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID}); !errors.Is(err, ErrNoSession) {
		t.Errorf("second run error = %v, want ErrNoSession", err)
	}
}

func TestExecuteConcurrentRunsMutateOnce(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r2"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	// A step delay long enough that the first run is still inside the
	// pipeline when the second one starts.
	store := NewSessionStore(DefaultSessionTTL, nil)
	engine, err := NewEngine(Config{
		Gateway:   gw,
		Store:     store,
		StepDelay: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001"); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Execute(context.Background(), &Request{
				RequesterID: "staff-1",
				ActorTag:    "mod#0",
				GuildID:     testGuildID,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ran, refused int
	for err := range errs {
		switch {
		case err == nil:
			ran++
		case errors.Is(err, ErrNoSession):
			refused++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ran != 1 || refused != 1 {
		t.Errorf("ran = %d, refused = %d, want exactly one of each", ran, refused)
	}
	if got := gw.removedCount(); got != 1 {
		t.Errorf("RemoveRole calls = %d, want 1", got)
	}
}

func TestExecuteFinalProgressBeforeStepDelay(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r2"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	store := NewSessionStore(DefaultSessionTTL, nil)
	engine, err := NewEngine(Config{
		Gateway:   gw,
		Store:     store,
		StepDelay: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001"); err != nil {
		t.Fatal(err)
	}

	// Cancelling from inside the progress callback lands the cancellation
	// in the step delay that follows; the final update must already be out.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []int
	_, err = engine.Execute(ctx, &Request{
		RequesterID: "staff-1",
		ActorTag:    "mod#0",
		GuildID:     testGuildID,
		Progress: func(done, total int) {
			seen = append(seen, done)
			if done == total {
				cancel()
			}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute error = %v, want context.Canceled", err)
	}

	want := []int{0, 1}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("progress calls = %v, want %v", seen, want)
	}
}

func TestExecuteStreamsProgress(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r2"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "")

	engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001 100000000000000002")

	var seen []int
	_, err := engine.Execute(context.Background(), &Request{
		RequesterID: "staff-1",
		ActorTag:    "mod#0",
		GuildID:     testGuildID,
		Progress:    func(done, total int) { seen = append(seen, done) },
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []int{0, 1, 2}
	if len(seen) != len(want) {
		t.Fatalf("progress calls = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress calls = %v, want %v", seen, want)
		}
	}
}

func TestExecuteDeliversReport(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r2"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
	}
	engine := newTestEngine(t, gw, "log-channel")

	engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001")
	if _, err := engine.Execute(context.Background(), &Request{
		RequesterID: "staff-1",
		ActorTag:    "mod#0",
		GuildID:     testGuildID,
		GuildName:   "Test Guild",
	}); err != nil {
		t.Fatal(err)
	}

	if len(gw.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(gw.sent))
	}
	out := gw.sent[0]
	if out.Embed == nil || out.Embed.Title != "Demo Wave Log" {
		t.Errorf("embed = %+v", out.Embed)
	}
	if out.File == nil || !strings.HasPrefix(out.File.Name, "demo-wave-log-") {
		t.Errorf("file = %+v", out.File)
	}
	artifact := string(out.File.Data)
	if !strings.Contains(artifact, "Success IDs:\n100000000000000001") {
		t.Errorf("artifact missing success group:\n%s", artifact)
	}
}

func TestExecuteSwallowsReportDeliveryFailure(t *testing.T) {
	gw := &mockGateway{
		memberFunc: func(_, userID string) (*gateway.Member, error) {
			return &gateway.Member{ID: userID, RoleIDs: []string{"r2"}}, nil
		},
		rolesFunc: func(string) ([]*gateway.Role, error) { return ladder(), nil },
		sendErr:   errors.New("channel gone"),
	}
	engine := newTestEngine(t, gw, "log-channel")

	engine.Stage("staff-1", testGuildID, KindDemote, "100000000000000001")
	result, err := engine.Execute(context.Background(), &Request{RequesterID: "staff-1", ActorTag: "mod#0", GuildID: testGuildID})
	if err != nil {
		t.Fatalf("delivery failure must not fail the wave: %v", err)
	}
	if len(result.Succeeded) != 1 {
		t.Errorf("result = %+v", result)
	}
}
