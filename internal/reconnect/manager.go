// Package reconnect centralizes write retry and offline handling so the
// session clients do not scatter try/retry loops across call sites.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOffline is returned immediately while the network gate is closed;
// the action is not queued, the next user action re-attempts.
var ErrOffline = errors.New("offline")

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	InitialWait time.Duration
	Multiplier  float64
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, Multiplier: 2}
}

// Manager decorates store writes with bounded retries and an offline gate.
// Overwrite-style writes are safe to retry blindly; append-style writes are
// deduplicated by caller-supplied write ids so a late retry cannot land a
// second copy after a successful attempt.
type Manager struct {
	cfg Config

	// Warn receives a non-fatal notice after retries exhaust. The user
	// action itself does not fail.
	Warn func(err error)
	// OnlineChanged observes gate flips for the connection banner.
	OnlineChanged func(online bool)

	mu      sync.Mutex
	offline bool
	applied map[string]bool
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		cfg:     cfg,
		applied: map[string]bool{},
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// SetOnline flips the network gate, driven by the host platform's
// offline/online events.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.offline == online
	m.offline = !online
	cb := m.OnlineChanged
	m.mu.Unlock()
	if changed && cb != nil {
		cb(online)
	}
}

func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.offline
}

// Do runs op with bounded retries and growing backoff. Exhaustion is not a
// failure of the user action: the last error goes to Warn ("may not have
// saved") and the call reports success. Only the offline gate and context
// cancellation surface as errors.
func (m *Manager) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if !m.Online() {
		return ErrOffline
	}
	var lastErr error
	wait := m.cfg.InitialWait
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, wait); err != nil {
				return err
			}
			wait = time.Duration(float64(wait) * m.cfg.Multiplier)
			if !m.Online() {
				return ErrOffline
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
	}
	if m.Warn != nil {
		m.Warn(lastErr)
	}
	return nil
}

// DoAppend is Do for append-only paths (posts): the writeID marks the
// logical write so a retry that raced a success is suppressed.
func (m *Manager) DoAppend(ctx context.Context, writeID string, op func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.applied[writeID] {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	err := m.Do(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		done := m.applied[writeID]
		m.mu.Unlock()
		if done {
			return nil
		}
		if err := op(ctx); err != nil {
			return err
		}
		m.mu.Lock()
		m.applied[writeID] = true
		m.mu.Unlock()
		return nil
	})
	return err
}
