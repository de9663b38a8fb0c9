package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// Resilience tests verify that the auth primitives hold up under failure
// and concurrency. They share the TestResilience_ prefix:
//
//	go test -run TestResilience -race ./internal/auth/...

// TestResilience_ConcurrentRegistration verifies that racing creates for
// the same email yield exactly one account.
func TestResilience_ConcurrentRegistration(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := t.Context()

	const racers = 8
	var created, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.Create(ctx, &User{
				Email:        "race@example.com",
				Username:     "racer",
				PasswordHash: "x",
			})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrEmailExists):
				duplicates.Add(1)
			default:
				// SQLITE_BUSY under heavy write contention is acceptable here.
				t.Logf("racer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("created = %d, want exactly 1", created.Load())
	}
	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

// TestResilience_ConcurrentTokenVerify verifies the token service can be
// shared across goroutines.
func TestResilience_ConcurrentTokenVerify(t *testing.T) {
	s, err := NewTokenService(testSecret, nil)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := s.Issue(TokenPayload{SessionID: "s", Email: "e@example.com"}, TokenTTLShort)
			if err != nil {
				t.Errorf("Issue() #%d error = %v", i, err)
				return
			}
			if _, err := s.Verify(token); err != nil {
				t.Errorf("Verify() #%d error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestResilience_ContextCancellation_RepositoryOps(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// All operations should return a context error, not panic
	if _, err := repo.List(ctx); err == nil {
		t.Error("List with cancelled context should return error")
	}
	if _, err := repo.GetByEmail(ctx, "nobody@example.com"); err == nil {
		t.Error("GetByEmail with cancelled context should return error")
	}
	if _, err := repo.Count(ctx); err == nil {
		t.Error("Count with cancelled context should return error")
	}
	if err := repo.Create(ctx, &User{Email: "cancel@example.com", Username: "cancel", PasswordHash: "x"}); err == nil {
		t.Error("Create with cancelled context should return error")
	}
}
