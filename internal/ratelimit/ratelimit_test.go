package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesBurstPerHost(t *testing.T) {
	l := NewHostLimiter(1, 2)

	if !l.Allow("api.trello.com") {
		t.Fatal("first token should be available")
	}
	if !l.Allow("api.trello.com") {
		t.Fatal("second token should be available within burst")
	}
	if l.Allow("api.trello.com") {
		t.Fatal("burst exhausted, third token should be denied")
	}

	// Other hosts have their own bucket.
	if !l.Allow("api.github.com") {
		t.Fatal("fresh host should have a full bucket")
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	l := NewHostLimiter(0.001, 1)
	if !l.Allow("api.trello.com") {
		t.Fatal("expected initial token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "api.trello.com"); err == nil {
		t.Fatal("expected wait to fail once the context expired")
	}
}

func TestNewClampsNonPositiveArguments(t *testing.T) {
	l := NewHostLimiter(0, 0)
	if !l.Allow("host") {
		t.Fatal("clamped limiter should still grant one token")
	}
}
