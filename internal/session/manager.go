// Package session maintains one authenticated engine session per engine
// instance, shared by every tenant that invokes a workflow on that instance.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
)

// Session is the authenticated state for one engine instance. A Session value
// is never modified after creation apart from its validation timestamp.
type Session struct {
	InstanceURL     string              `json:"instanceUrl"`
	Material        engine.AuthMaterial `json:"-"`
	ObtainedAt      time.Time           `json:"obtainedAt"`
	EstimatedExpiry time.Time           `json:"estimatedExpiry"`
	// Degraded marks material taken from the static fallback after a failed login.
	Degraded bool `json:"degraded"`

	validatedAt atomic.Int64
}

// LastValidatedAt returns when the engine last accepted this session.
func (s *Session) LastValidatedAt() time.Time {
	return time.Unix(0, s.validatedAt.Load())
}

func (s *Session) markValidated(t time.Time) {
	s.validatedAt.Store(t.UnixNano())
}

// Checker verifies session material against an engine instance.
type Checker interface {
	CurrentUser(ctx context.Context, auth engine.AuthMaterial) error
}

// Instance is an engine instance the manager holds sessions for.
type Instance struct {
	URL         string
	Credentials Credentials
	Checker     Checker
}

// Options tune the manager.
type Options struct {
	// TTL estimates the session lifetime when the engine reports no expiry.
	TTL time.Duration
	// LoginTimeout bounds a single login attempt.
	LoginTimeout time.Duration
	// LoginInterval is the minimum spacing of login attempts per instance.
	LoginInterval time.Duration
	// Fallback, when set, is used as degraded material after a failed login.
	Fallback *engine.AuthMaterial
	Now      func() time.Time
}

// Manager acquires, shares and refreshes sessions.
type Manager struct {
	provider AuthenticationProvider
	opts     Options
	logger   *logging.Logger
	flight   singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	instance  Instance
	session   *Session
	lastError string
	limiter   *rate.Limiter
}

// NewManager creates a new Manager for the given instances.
func NewManager(provider AuthenticationProvider, instances []Instance, opts Options, logger *logging.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		provider: provider,
		opts:     opts,
		logger:   logger.With("component", "session"),
		entries:  map[string]*entry{},
	}
	for _, in := range instances {
		m.entries[in.URL] = m.newEntry(in)
	}
	return m
}

func (m *Manager) newEntry(in Instance) *entry {
	limit := rate.Inf
	if m.opts.LoginInterval > 0 {
		limit = rate.Every(m.opts.LoginInterval)
	}
	return &entry{instance: in, limiter: rate.NewLimiter(limit, 1)}
}

// Get returns a usable session for the instance, logging in when there is no
// session or the current one is past its estimated expiry. Concurrent callers
// share a single login attempt.
func (m *Manager) Get(ctx context.Context, instanceURL string) (*Session, error) {
	if s := m.current(instanceURL); s != nil {
		return s, nil
	}
	return m.login(ctx, instanceURL)
}

// Invalidate discards the current session of the instance.
func (m *Manager) Invalidate(instanceURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[instanceURL]; ok && e.session != nil {
		e.session = nil
		m.logger.Info("Session invalidated", "instance", instanceURL)
	}
}

// Refresh discards stale if it is still the current session and returns a
// fresh one. Callers rejected with the same stale session therefore trigger one
// login between them.
func (m *Manager) Refresh(ctx context.Context, instanceURL string, stale *Session) (*Session, error) {
	m.mu.Lock()
	if e, ok := m.entries[instanceURL]; ok && e.session != nil && e.session == stale {
		e.session = nil
		m.logger.Info("Session rejected by engine, re-authenticating", "instance", instanceURL)
	}
	m.mu.Unlock()
	return m.Get(ctx, instanceURL)
}

func (m *Manager) current(instanceURL string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[instanceURL]
	if !ok || e.session == nil {
		return nil
	}
	if !m.opts.Now().Before(e.session.EstimatedExpiry) {
		return nil
	}
	return e.session
}

func (m *Manager) login(ctx context.Context, instanceURL string) (*Session, error) {
	ch := m.flight.DoChan(instanceURL, func() (any, error) {
		if s := m.current(instanceURL); s != nil {
			return s, nil
		}
		// The login is shared by every waiter, so it is not bound to the
		// context of the caller that happened to start it.
		lctx, cancel := context.WithTimeout(context.Background(), m.opts.LoginTimeout)
		defer cancel()
		return m.doLogin(lctx, instanceURL)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for engine session: %w", ctx.Err())
	}
}

func (m *Manager) doLogin(ctx context.Context, instanceURL string) (*Session, error) {
	m.mu.RLock()
	e, ok := m.entries[instanceURL]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.AuthenticationFailure, "engine instance %s is not configured", instanceURL)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.AuthenticationFailure, err, "login to %s rate limited", instanceURL)
	}

	m.logger.Info("Logging in to engine", "instance", instanceURL)
	started := m.opts.Now()
	login, err := m.provider.Login(ctx, instanceURL, e.instance.Credentials)
	if err != nil {
		return m.loginFailed(e, instanceURL, err)
	}

	now := m.opts.Now()
	s := &Session{
		InstanceURL:     instanceURL,
		Material:        login.Material,
		ObtainedAt:      now,
		EstimatedExpiry: m.expiry(now, login.Expires),
	}
	s.markValidated(now)
	m.store(e, s, "")
	m.logger.Info("Engine session acquired",
		"instance", instanceURL,
		"duration", now.Sub(started),
		"expires", s.EstimatedExpiry,
	)
	return s, nil
}

func (m *Manager) loginFailed(e *entry, instanceURL string, cause error) (*Session, error) {
	if m.opts.Fallback == nil || m.opts.Fallback.Empty() {
		m.store(e, nil, cause.Error())
		m.logger.Error("Engine login failed", "instance", instanceURL, "error", cause)
		return nil, errs.Wrap(errs.AuthenticationFailure, cause, "login to %s failed", instanceURL)
	}

	m.logger.Warn("Engine login failed, using static session material",
		"instance", instanceURL,
		"error", cause,
	)
	now := m.opts.Now()
	s := &Session{
		InstanceURL:     instanceURL,
		Material:        *m.opts.Fallback,
		ObtainedAt:      now,
		EstimatedExpiry: now.Add(m.opts.TTL),
		Degraded:        true,
	}
	m.store(e, s, cause.Error())
	return s, nil
}

// expiry prefers the engine-reported expiry, capped by the TTL estimate.
func (m *Manager) expiry(now, reported time.Time) time.Time {
	estimated := now.Add(m.opts.TTL)
	if !reported.IsZero() && reported.Before(estimated) {
		return reported
	}
	return estimated
}

func (m *Manager) store(e *entry, s *Session, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.session = s
	e.lastError = lastError
}

// Validate checks every live session against its engine and drops the ones
// the engine no longer accepts.
func (m *Manager) Validate(ctx context.Context) {
	m.mu.RLock()
	type check struct {
		url     string
		session *Session
		checker Checker
	}
	var checks []check
	for url, e := range m.entries {
		if e.session != nil && e.instance.Checker != nil {
			checks = append(checks, check{url, e.session, e.instance.Checker})
		}
	}
	m.mu.RUnlock()

	for _, c := range checks {
		err := c.checker.CurrentUser(ctx, c.session.Material)
		switch {
		case err == nil:
			c.session.markValidated(m.opts.Now())
		case engine.IsUnauthorized(err):
			m.mu.Lock()
			if e := m.entries[c.url]; e.session == c.session {
				e.session = nil
				e.lastError = "session rejected during validation"
			}
			m.mu.Unlock()
			m.logger.Warn("Engine session no longer accepted", "instance", c.url)
		default:
			m.logger.Warn("Engine session validation failed", "instance", c.url, "error", err)
		}
	}
}

// StartValidation runs Validate on the given cron schedule until the returned
// stop function is called.
func (m *Manager) StartValidation(schedule string) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.LoginTimeout)
		defer cancel()
		m.Validate(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid validation schedule %q: %w", schedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// Status describes the session of one instance without its material.
type Status struct {
	InstanceURL     string     `json:"instanceUrl"`
	Valid           bool       `json:"valid"`
	Degraded        bool       `json:"degraded"`
	ObtainedAt      *time.Time `json:"obtainedAt,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	ExpiresIn       string     `json:"expiresIn,omitempty"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
}

// Status reports the session state of every configured instance.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.opts.Now()

	statuses := make([]Status, 0, len(m.entries))
	for url, e := range m.entries {
		st := Status{InstanceURL: url, LastError: e.lastError}
		if s := e.session; s != nil {
			obtained, expires, validated := s.ObtainedAt, s.EstimatedExpiry, s.LastValidatedAt()
			st.Valid = now.Before(expires)
			st.Degraded = s.Degraded
			st.ObtainedAt = &obtained
			st.ExpiresAt = &expires
			st.ExpiresIn = humanize.RelTime(expires, now, "ago", "from now")
			st.LastValidatedAt = &validated
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].InstanceURL < statuses[j].InstanceURL })
	return statuses
}
