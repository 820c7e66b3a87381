package ruleengine

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carepoint/policygate/internal/audit"
	"github.com/carepoint/policygate/internal/identity"
	"github.com/carepoint/policygate/internal/protocol"
)

// manualClock is a Clock tests move by hand.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mapCounters is a minimal in-process CounterStore.
type mapCounters struct {
	mu   sync.Mutex
	data map[string]WindowCounter
	err  error
}

func newMapCounters() *mapCounters {
	return &mapCounters{data: make(map[string]WindowCounter)}
}

func (m *mapCounters) Hit(_ context.Context, key string, now time.Time, window time.Duration) (WindowCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return WindowCounter{}, m.err
	}
	c, ok := m.data[key]
	if !ok || now.Sub(c.WindowStart) > window {
		c = WindowCounter{WindowStart: now}
	}
	c.Count++
	m.data[key] = c
	return c, nil
}

// recordingSink keeps every record written.
type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
	panics  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, rec audit.Record) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

// stubResolver maps tokens to identities and user ids to stored roles.
type stubResolver struct {
	tokens map[string]*identity.Identity
	roles  map[string]string
	err    error
}

func (s *stubResolver) ResolveToken(_ context.Context, token string) (*identity.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	id, ok := s.tokens[token]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	cp := *id
	return &cp, nil
}

func (s *stubResolver) LookupRole(_ context.Context, id *identity.Identity) (string, error) {
	role, ok := s.roles[id.ID]
	if !ok {
		return "", identity.ErrUserNotFound
	}
	return role, nil
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func request(method, path string) *protocol.Request {
	return &protocol.Request{Method: method, Path: path, Headers: map[string]string{}, ClientIP: "10.0.0.1"}
}

// countingRule records how often it ran and returns a fixed result.
type countingRule struct {
	cfg    RuleConfig
	result Result
	err    error
	panics bool
	calls  int
	onRun  func(rc *Context)
}

func (r *countingRule) Config() RuleConfig { return r.cfg }

func (r *countingRule) Execute(_ context.Context, rc *Context) (Result, error) {
	r.calls++
	if r.onRun != nil {
		r.onRun(rc)
	}
	if r.panics {
		panic("rule exploded")
	}
	return r.result, r.err
}

func passing(id string, priority int) *countingRule {
	return &countingRule{
		cfg:    RuleConfig{ID: id, Name: id, Type: RuleTypeCustom, Priority: priority, Enabled: true},
		result: Pass(nil),
	}
}

// rateLimitInfo returns the counter state from a rate limit result: failures
// carry it under "rateLimit", passes under the per-rule data key.
func rateLimitInfo(res Result, ruleID string) map[string]any {
	if m, ok := res.Details["rateLimit"].(map[string]any); ok {
		return m
	}
	m, _ := res.Details[RateLimitDataKey(ruleID)].(map[string]any)
	return m
}
