package wave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildops/guildops/internal/audit"
	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/ids"
	"github.com/guildops/guildops/internal/metrics"
	"github.com/guildops/guildops/internal/report"
)

// DefaultStepDelay is the pause between consecutive role mutations. It keeps
// sequential waves comfortably under the platform's rate limits.
const DefaultStepDelay = 300 * time.Millisecond

// Config configures the wave engine.
type Config struct {
	// Gateway performs the member and role operations.
	Gateway gateway.Gateway

	// Store holds staged sessions.
	Store *SessionStore

	// StepDelay is the pause after each processed target. Zero selects
	// DefaultStepDelay.
	StepDelay time.Duration

	// LogChannelID, when set, receives a summary embed and full text
	// artifact after each wave. Delivery failures are logged and swallowed.
	LogChannelID string

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Audit records wave lifecycle events; nil disables auditing.
	Audit *audit.Logger

	// Metrics records wave outcomes; nil disables metrics.
	Metrics *metrics.Metrics
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return gateway.ErrConfig("wave engine requires a gateway", nil)
	}
	if c.Store == nil {
		return gateway.ErrConfig("wave engine requires a session store", nil)
	}
	if c.StepDelay == 0 {
		c.StepDelay = DefaultStepDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Engine stages and executes waves.
type Engine struct {
	gw      gateway.Gateway
	store   *SessionStore
	delay   time.Duration
	logChan string
	logger  *slog.Logger
	audit   *audit.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates a wave engine.
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		gw:      config.Gateway,
		store:   config.Store,
		delay:   config.StepDelay,
		logChan: config.LogChannelID,
		logger:  config.Logger.With("component", "wave"),
		audit:   config.Audit,
		metrics: config.Metrics,
		now:     time.Now,
	}, nil
}

// Store exposes the session store for sweep scheduling.
func (e *Engine) Store() *SessionStore {
	return e.store
}

// Stage parses raw pasted text into a normalized target list and stages it as
// the requester's session, replacing any previous one. Text with no
// identifier-shaped substrings is rejected with an invalid-input error.
func (e *Engine) Stage(requesterID, guildID string, kind Kind, raw string) (*Session, error) {
	targets := ids.Normalize(raw)
	if len(targets) == 0 {
		return nil, gateway.ErrInvalidInput("no valid user ids found", nil)
	}

	session := &Session{TargetIDs: targets, GuildID: guildID, Kind: kind}
	if err := e.store.Put(requesterID, session); err != nil {
		return nil, gateway.ErrInvalidInput(err.Error(), err)
	}

	if e.audit != nil {
		e.audit.LogWaveStaged(context.Background(), guildID, requesterID, len(targets))
	}
	e.updateSessionGauge()
	return session, nil
}

// Sweep drops expired sessions. Wired to the periodic scheduler.
func (e *Engine) Sweep() int {
	removed := e.store.Sweep()
	e.updateSessionGauge()
	return removed
}

// Request identifies who is running a wave and where progress goes.
type Request struct {
	// RequesterID is the staff member whose staged session is consumed.
	RequesterID string

	// ActorTag is the staff member's handle, recorded in audit reasons.
	ActorTag string

	// GuildID scopes the run; a session staged in another guild is refused.
	GuildID string

	// GuildName labels the wave report.
	GuildName string

	// Progress, when set, is called after each processed target with
	// (processed, total). It is also called once with (0, total) before the
	// first target.
	Progress func(done, total int)
}

// Result is the outcome of a completed wave. Every target id lands in exactly
// one of Succeeded, NotFound, or Failed; Failed entries carry their reason as
// "id (reason)".
type Result struct {
	Kind      Kind
	SortedIDs []string
	Succeeded []string
	NotFound  []string
	Failed    []string
	Duration  time.Duration
}

// Total returns the number of processed targets.
func (r *Result) Total() int {
	return len(r.SortedIDs)
}

// Execute consumes the requester's staged session and runs the sequential
// pipeline over its targets. The session is taken out of the store before the
// first gateway call, so a second Execute for the same requester gets
// ErrNoSession instead of running the wave again.
func (e *Engine) Execute(ctx context.Context, req *Request) (*Result, error) {
	session, err := e.store.Take(req.RequesterID, req.GuildID)
	e.updateSessionGauge()
	if err != nil {
		return nil, err
	}

	roles, err := e.gw.Roles(ctx, req.GuildID)
	if err != nil {
		return nil, fmt.Errorf("fetching guild roles: %w", err)
	}

	start := e.now()
	total := len(session.TargetIDs)
	result := &Result{Kind: session.Kind, SortedIDs: session.TargetIDs}
	reason := auditReason(session.Kind, req.ActorTag)

	e.logger.Info("wave started",
		"kind", string(session.Kind),
		"guild_id", req.GuildID,
		"requester_id", req.RequesterID,
		"targets", total)
	if e.audit != nil {
		e.audit.LogWaveStarted(ctx, req.GuildID, req.RequesterID, string(session.Kind), total)
	}
	if req.Progress != nil {
		req.Progress(0, total)
	}

	for index, userID := range session.TargetIDs {
		e.step(ctx, req.GuildID, userID, session.Kind, roles, reason, result)

		if req.Progress != nil {
			req.Progress(index+1, total)
		}
		if err := sleepCtx(ctx, e.delay); err != nil {
			result.Duration = e.now().Sub(start)
			return result, err
		}
	}

	result.Duration = e.now().Sub(start)
	e.logger.Info("wave completed",
		"kind", string(session.Kind),
		"guild_id", req.GuildID,
		"succeeded", len(result.Succeeded),
		"not_found", len(result.NotFound),
		"failed", len(result.Failed),
		"duration", result.Duration)
	if e.audit != nil {
		e.audit.LogWaveCompleted(ctx, req.GuildID, req.RequesterID, string(session.Kind),
			len(result.Succeeded), len(result.NotFound), len(result.Failed), result.Duration)
	}
	if e.metrics != nil {
		e.metrics.WaveDuration.WithLabelValues(string(session.Kind)).Observe(result.Duration.Seconds())
	}

	e.deliverReport(ctx, req, result)
	return result, nil
}

// step processes one target and records its outcome on result.
func (e *Engine) step(ctx context.Context, guildID, userID string, kind Kind, roles []*gateway.Role, reason string, result *Result) {
	outcome := e.mutate(ctx, guildID, userID, kind, roles, reason, result)
	if e.metrics != nil {
		e.metrics.WaveTarget(string(kind), outcome)
	}
}

func (e *Engine) mutate(ctx context.Context, guildID, userID string, kind Kind, roles []*gateway.Role, reason string, result *Result) string {
	member, err := e.gw.Member(ctx, guildID, userID)
	if err != nil {
		return e.classify(userID, err, result)
	}

	plan := planWave(kind, member, roles, guildID)
	if plan.remove == nil || plan.add == nil {
		result.Failed = append(result.Failed, fmt.Sprintf("%s (%s)", userID, plan.failureReason(kind)))
		return "failed"
	}

	if err := e.gw.RemoveRole(ctx, guildID, userID, plan.remove.ID, reason); err != nil {
		return e.classify(userID, err, result)
	}
	if !member.HasRole(plan.add.ID) {
		if err := e.gw.AddRole(ctx, guildID, userID, plan.add.ID, reason); err != nil {
			return e.classify(userID, err, result)
		}
	}

	result.Succeeded = append(result.Succeeded, userID)
	return "succeeded"
}

// classify buckets a gateway failure: a missing member goes to NotFound,
// everything else to Failed with the error message inline.
func (e *Engine) classify(userID string, err error, result *Result) string {
	if gateway.IsNotFound(err) {
		result.NotFound = append(result.NotFound, userID)
		return "not_found"
	}
	result.Failed = append(result.Failed, fmt.Sprintf("%s (%s)", userID, errorMessage(err)))
	if e.metrics != nil {
		e.metrics.GatewayError(string(gateway.GetErrorCode(err)))
	}
	return "failed"
}

// deliverReport sends the wave summary and full artifact to the configured
// log channel. A missing channel or failed send never fails the wave.
func (e *Engine) deliverReport(ctx context.Context, req *Request, result *Result) {
	if e.logChan == "" {
		return
	}

	summary := &report.WaveSummary{
		Title:     waveTitle(result.Kind),
		RunBy:     req.ActorTag,
		RunByID:   req.RequesterID,
		GuildName: req.GuildName,
		GuildID:   req.GuildID,
		SortedIDs: result.SortedIDs,
		Succeeded: result.Succeeded,
		NotFound:  result.NotFound,
		Failed:    result.Failed,
	}

	out := &gateway.Outbound{
		Embed: &gateway.Embed{
			Title:     summary.Title,
			Fields:    summary.Fields(),
			Timestamp: true,
		},
		File: &gateway.File{
			Name: fmt.Sprintf("%s-wave-log-%d.txt", kindSlug(result.Kind), e.now().UnixMilli()),
			Data: []byte(summary.Artifact()),
		},
	}
	if err := e.gw.Send(ctx, e.logChan, out); err != nil {
		e.logger.Warn("wave report delivery failed",
			"channel_id", e.logChan,
			"error", err)
	}
}

func (e *Engine) updateSessionGauge() {
	if e.metrics != nil {
		e.metrics.WaveSessions.Set(float64(e.store.Len()))
	}
}

// rolePlan is the per-member mutation plan: the role to take away, the role
// to grant, or the reason no plan exists.
type rolePlan struct {
	remove *gateway.Role
	add    *gateway.Role
	reason string
}

func (p rolePlan) failureReason(kind Kind) string {
	if p.reason != "" {
		return p.reason
	}
	if kind == KindPromote {
		return "promotion step failed"
	}
	return "demotion step failed"
}

// planWave computes the member's mutation plan. Only assignable roles count:
// not the everyone role, not platform-managed, and editable by the acting bot.
func planWave(kind Kind, member *gateway.Member, roles []*gateway.Role, guildID string) rolePlan {
	assignable := make([]*gateway.Role, 0, len(roles))
	for _, role := range roles {
		if role.ID == guildID || role.Managed || !role.Editable {
			continue
		}
		assignable = append(assignable, role)
	}

	// Highest assignable role the member currently holds.
	var top *gateway.Role
	for _, role := range assignable {
		if !member.HasRole(role.ID) {
			continue
		}
		if top == nil || role.Position > top.Position {
			top = role
		}
	}
	if top == nil {
		return rolePlan{reason: "no removable role found"}
	}

	if kind == KindPromote {
		// Lowest assignable role strictly above the member's top role.
		var above *gateway.Role
		for _, role := range assignable {
			if role.Position <= top.Position {
				continue
			}
			if above == nil || role.Position < above.Position {
				above = role
			}
		}
		if above == nil {
			return rolePlan{remove: top, reason: "no higher assignable role found"}
		}
		return rolePlan{remove: top, add: above}
	}

	// Highest assignable role strictly below the member's top role.
	var below *gateway.Role
	for _, role := range assignable {
		if role.Position >= top.Position {
			continue
		}
		if below == nil || role.Position > below.Position {
			below = role
		}
	}
	if below == nil {
		return rolePlan{remove: top, reason: "no lower assignable role found"}
	}
	return rolePlan{remove: top, add: below}
}

// auditReason builds the actor-attributed reason attached to role mutations.
func auditReason(kind Kind, actorTag string) string {
	if kind == KindPromote {
		return "Promo wave by " + actorTag
	}
	return "Demo wave by " + actorTag
}

func waveTitle(kind Kind) string {
	if kind == KindPromote {
		return "Promo Wave Log"
	}
	return "Demo Wave Log"
}

func kindSlug(kind Kind) string {
	if kind == KindPromote {
		return "promo"
	}
	return "demo"
}

func errorMessage(err error) string {
	var gerr *gateway.Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return gerr.Message
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
