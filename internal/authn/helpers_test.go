package authn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/session"
	"github.com/nerrad567/gatekeeper/internal/throttle"
)

const (
	testSecret   = "test-secret-that-is-at-least-32-characters"
	testPassword = "Correct-Horse-9!"
	testOrigin   = "10.0.0.1"
)

var fastHasher = auth.NewHasher(auth.HashParams{Time: 1, Memory: 1024})

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memUsers is an in-memory user directory.
type memUsers struct {
	mu    sync.Mutex
	byID  map[string]auth.User
	err   error
	calls int
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]auth.User)}
}

func (m *memUsers) add(u auth.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
}

func (m *memUsers) update(id string, fn func(*auth.User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	fn(&u)
	m.byID[id] = u
}

func (m *memUsers) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.byID {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

// recorder collects audit events synchronously.
type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Emit(ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func (r *recorder) ofKind(k audit.Kind) []audit.Event {
	var out []audit.Event
	for _, ev := range r.all() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// failingThrottleStore fails every call.
type failingThrottleStore struct{}

var errBackendDown = errors.New("backend down")

func (failingThrottleStore) Get(context.Context, string) (throttle.Record, bool, error) {
	return throttle.Record{}, false, errBackendDown
}

func (failingThrottleStore) RegisterFailure(context.Context, string, time.Time, throttle.Policy) (throttle.Record, error) {
	return throttle.Record{}, errBackendDown
}

func (failingThrottleStore) Delete(context.Context, string) error { return errBackendDown }

type harness struct {
	enforcer *Enforcer
	clock    *fakeClock
	users    *memUsers
	sessions *session.MemoryStore
	tokens   *auth.TokenService
	audit    *recorder
	alice    auth.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, throttle.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store throttle.Store) *harness {
	t.Helper()

	clock := newFakeClock()
	tokens, err := auth.NewTokenService(testSecret, nil, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)

	hash, err := fastHasher.Hash(testPassword)
	require.NoError(t, err)

	alice := auth.User{
		ID:           "usr-alice",
		Email:        "alice@example.com",
		Username:     "alice",
		PasswordHash: hash,
		Role:         auth.RoleUser,
		CreatedAt:    clock.Now(),
		UpdatedAt:    clock.Now(),
	}
	users := newMemUsers()
	users.add(alice)

	h := &harness{
		clock:    clock,
		users:    users,
		sessions: session.NewMemoryStore(),
		tokens:   tokens,
		audit:    &recorder{},
		alice:    alice,
	}

	h.enforcer, err = New(Deps{
		Users:    users,
		Sessions: h.sessions,
		Throttle: throttle.New(store, throttle.WithClock(clock.Now)),
		Tokens:   tokens,
		Hasher:   fastHasher,
		Audit:    h.audit,
		Clock:    clock.Now,
	})
	require.NoError(t, err)
	return h
}

// login logs alice in and returns the result.
func (h *harness) login(t *testing.T) *LoginResult {
	t.Helper()
	res, err := h.enforcer.Login(context.Background(), h.alice.Email, testPassword, testOrigin)
	require.NoError(t, err)
	return res
}

// bearer issues a day token for the session.
func (h *harness) bearer(t *testing.T, sessionID, email string) string {
	t.Helper()
	tok, err := h.tokens.Issue(auth.TokenPayload{SessionID: sessionID, Email: email}, auth.TokenTTLDay)
	require.NoError(t, err)
	return tok
}
