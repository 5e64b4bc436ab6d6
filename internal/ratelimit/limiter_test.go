package ratelimit

import (
	"context"
	"testing"
)

func TestLimiterSeparatesUsers(t *testing.T) {
	l := NewLimiter(Config{
		Store:                 NewMemoryStoreWithCleanup(0),
		UserRequestsPerSecond: 1,
		UserBurstSize:         2,
	})
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !l.AllowUser(ctx, "alice") {
			t.Errorf("alice request %d should pass", i)
		}
	}
	if l.AllowUser(ctx, "alice") {
		t.Error("alice should be limited after burst")
	}
	// bob has his own bucket
	if !l.AllowUser(ctx, "bob") {
		t.Error("bob should not be affected by alice's limit")
	}
}

func TestLimiterEmptyKeyPasses(t *testing.T) {
	l := NewLimiter(Config{Store: NewMemoryStoreWithCleanup(0)})
	defer l.Close()

	if !l.AllowUser(context.Background(), "") {
		t.Error("empty user id should pass")
	}
	if !l.AllowSession(context.Background(), "") {
		t.Error("empty session token should pass")
	}
}

func TestLimiterResetUser(t *testing.T) {
	l := NewLimiter(Config{
		Store:                 NewMemoryStoreWithCleanup(0),
		UserRequestsPerSecond: 1,
		UserBurstSize:         1,
	})
	defer l.Close()
	ctx := context.Background()

	if !l.AllowUser(ctx, "carol") {
		t.Fatal("first request should pass")
	}
	if l.AllowUser(ctx, "carol") {
		t.Fatal("second request should be limited")
	}
	if err := l.ResetUser(ctx, "carol"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !l.AllowUser(ctx, "carol") {
		t.Error("request after reset should pass")
	}
}

func TestLimiterSessionBuckets(t *testing.T) {
	l := NewLimiter(Config{
		Store:                    NewMemoryStoreWithCleanup(0),
		SessionRequestsPerSecond: 1,
		SessionBurstSize:         1,
	})
	defer l.Close()
	ctx := context.Background()

	if !l.AllowSession(ctx, "tok-1") {
		t.Fatal("first session request should pass")
	}
	if l.AllowSession(ctx, "tok-1") {
		t.Error("second session request should be limited")
	}
	if !l.AllowSession(ctx, "tok-2") {
		t.Error("separate session should have its own bucket")
	}
}
