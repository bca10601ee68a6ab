package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/estatepulse/property-crawler-service/common"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(100*time.Millisecond, 500*time.Millisecond)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 500 * time.Millisecond}, // capped
		{10, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := backoff(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestRetryPolicyNext(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Backoff: FixedBackoff(time.Second)}

	if _, ok := p.Next(1); !ok {
		t.Error("Expected attempt 2 to be allowed")
	}
	if _, ok := p.Next(2); !ok {
		t.Error("Expected attempt 3 to be allowed")
	}
	if _, ok := p.Next(3); ok {
		t.Error("Expected retries to be exhausted after 3 attempts")
	}
}

func TestRetryPolicyDoRetriesTransientFailures(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Backoff: FixedBackoff(time.Millisecond)}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &common.TransientFetchError{URL: "http://example.com", Err: errors.New("reset")}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyDoExhaustsBudget(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, Backoff: FixedBackoff(time.Millisecond)}

	calls := 0
	wantErr := &common.TransientFetchError{URL: "http://example.com", Err: errors.New("down")}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr.Err) && err != wantErr {
		t.Errorf("Expected last error back, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected exactly 2 calls, got %d", calls)
	}
}

func TestRetryPolicyDoStopsOnPermanentError(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: FixedBackoff(time.Millisecond)}

	calls := 0
	permanent := errors.New("schema violation")
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for a non-retriable error, got %d", calls)
	}
}

func TestRetryPolicyDoHonorsCancellation(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, Backoff: FixedBackoff(time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func(ctx context.Context) error {
		return common.ErrFetchTimeout
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
