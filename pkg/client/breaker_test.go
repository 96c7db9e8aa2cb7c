package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerFetcher_OpensAfterConsecutiveFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(1, msg(1, 1, "a"))
	fetcher.err = errors.New("server down")

	b := NewBreakerFetcher(fetcher, BreakerConfig{FailureThreshold: 2, Timeout: 20 * time.Millisecond, Logger: quietLogger()})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.LatestMessages(ctx, 1, 10); err == nil || errors.Is(err, ErrHistoryUnavailable) {
			t.Fatalf("call %d: err = %v, want the fetcher error", i+1, err)
		}
	}
	if b.State() != "open" {
		t.Fatalf("State() = %q, want open", b.State())
	}

	if _, err := b.LatestMessages(ctx, 1, 10); !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("err = %v, want ErrHistoryUnavailable", err)
	}
	if fetcher.callCount() != 2 {
		t.Errorf("fetcher calls = %d, want 2 while open", fetcher.callCount())
	}

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	msgs, err := b.LatestMessages(ctx, 1, 10)
	if err != nil {
		t.Fatalf("trial request failed: %v", err)
	}
	if !equalIDs(ids(msgs), []int64{1}) {
		t.Errorf("messages = %v", ids(msgs))
	}
	if b.State() != "closed" {
		t.Errorf("State() = %q, want closed after a successful trial", b.State())
	}
}

func TestBreakerFetcher_CancellationDoesNotTrip(t *testing.T) {
	fetcher := newFakeFetcher()
	b := NewBreakerFetcher(fetcher, BreakerConfig{FailureThreshold: 1, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher.block = make(chan struct{})
	if _, err := b.LatestMessages(ctx, 1, 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.State() != "closed" {
		t.Errorf("State() = %q, cancellation should not open the breaker", b.State())
	}
}
