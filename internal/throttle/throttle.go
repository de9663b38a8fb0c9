// Package throttle limits credential guessing per identity and origin.
//
// A key accumulates failures inside a fixed window that starts at its first
// failure. Reaching the limit blocks the key for a fixed duration, during
// which every attempt is refused before any credential check.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// Default limits.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 5 * time.Minute
	DefaultBlock       = 15 * time.Minute
)

// unknownOrigin stands in for requests whose origin address is not known.
const unknownOrigin = "unknown-ip"

// Policy holds the limits applied by a Throttle.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// DefaultPolicy is 5 failures per 5 minutes, then a 15 minute block.
var DefaultPolicy = Policy{
	MaxAttempts: DefaultMaxAttempts,
	Window:      DefaultWindow,
	Block:       DefaultBlock,
}

// Record is the failure state of one key.
type Record struct {
	Count        int
	FirstFailure time.Time
	BlockedUntil time.Time // zero when not blocked
}

// Blocked reports whether the record blocks attempts at now.
func (r Record) Blocked(now time.Time) bool {
	return !r.BlockedUntil.IsZero() && now.Before(r.BlockedUntil)
}

// next applies one failure at now to rec. exists is false when the key had
// no record. A new window starts when none exists or the old one elapsed.
func next(rec Record, exists bool, now time.Time, p Policy) Record {
	if !exists || now.Sub(rec.FirstFailure) > p.Window {
		rec = Record{Count: 1, FirstFailure: now}
	} else {
		rec.Count++
	}
	if rec.Count >= p.MaxAttempts {
		rec.BlockedUntil = now.Add(p.Block)
	}
	return rec
}

// expired reports whether rec can be discarded at now: no active block and
// its window has elapsed.
func expired(rec Record, now time.Time, p Policy) bool {
	return !rec.Blocked(now) && now.Sub(rec.FirstFailure) > p.Window
}

// Store persists records. RegisterFailure must apply next atomically.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	RegisterFailure(ctx context.Context, key string, now time.Time, p Policy) (Record, error)
	Delete(ctx context.Context, key string) error
}

// ErrStore wraps backend failures.
var ErrStore = errors.New("throttle store")

// Throttle enforces a Policy over a Store.
type Throttle struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(t *Throttle) { t.policy = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// New returns a Throttle backed by store.
func New(store Store, opts ...Option) *Throttle {
	t := &Throttle{store: store, policy: DefaultPolicy, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Policy returns the limits in force.
func (t *Throttle) Policy() Policy {
	return t.policy
}

// Key builds the throttle key for an identity and origin. The identity is
// normalised the same way as login emails.
func Key(email, origin string) string {
	if origin == "" {
		origin = unknownOrigin
	}
	return auth.NormalizeEmail(email) + ":" + strings.TrimSpace(origin)
}

// EnsureNotBlocked returns auth.TooManyAttempts with the remaining block in
// whole seconds (rounded up) while key is blocked.
func (t *Throttle) EnsureNotBlocked(ctx context.Context, key string) error {
	rec, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: get %q: %w", ErrStore, key, err)
	}
	now := t.now()
	if !ok || !rec.Blocked(now) {
		return nil
	}
	return auth.TooManyAttempts(remainingSeconds(rec.BlockedUntil.Sub(now)))
}

// RegisterFailure records a failed attempt and reports whether key is now
// blocked.
func (t *Throttle) RegisterFailure(ctx context.Context, key string) (bool, error) {
	now := t.now()
	rec, err := t.store.RegisterFailure(ctx, key, now, t.policy)
	if err != nil {
		return false, fmt.Errorf("%w: register %q: %w", ErrStore, key, err)
	}
	return rec.Blocked(now), nil
}

// Reset forgets key. Called after a successful login.
func (t *Throttle) Reset(ctx context.Context, key string) error {
	if err := t.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: reset %q: %w", ErrStore, key, err)
	}
	return nil
}

// RetryAfter returns the block length in seconds, used when the current
// failure is the one that tripped the block.
func (t *Throttle) RetryAfter() int {
	return remainingSeconds(t.policy.Block)
}

func remainingSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
