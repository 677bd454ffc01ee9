package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.Delay != 5*time.Second {
		t.Errorf("Delay = %v, want 5s", p.Delay)
	}
	if p.Multiplier != 1.0 {
		t.Errorf("Multiplier = %v, want 1.0", p.Multiplier)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"constant first", RetryPolicy{Delay: 5 * time.Second, Multiplier: 1}, 1, 5 * time.Second},
		{"constant third", RetryPolicy{Delay: 5 * time.Second, Multiplier: 1}, 3, 5 * time.Second},
		{"zero multiplier means constant", RetryPolicy{Delay: time.Second}, 4, time.Second},
		{"exponential first", RetryPolicy{Delay: time.Second, Multiplier: 2}, 1, time.Second},
		{"exponential third", RetryPolicy{Delay: time.Second, Multiplier: 2}, 3, 4 * time.Second},
		{"capped", RetryPolicy{Delay: time.Second, Multiplier: 10, MaxDelay: 30 * time.Second}, 3, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Backoff(tt.attempt); got != tt.want {
				t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_BackoffJitter(t *testing.T) {
	p := RetryPolicy{Delay: time.Second, Multiplier: 1, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		got := p.Backoff(1)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("Backoff() = %v, want within ±20%% of 1s", got)
		}
	}
}

func TestRetryWithBackoff_StopsOnNonRetriable(t *testing.T) {
	calls := 0
	attempts, err := retryWithBackoff(context.Background(), RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, func(int) error {
		calls++
		return &FetchError{Class: ErrorClassClient, StatusCode: 400}
	}, func(err error) ErrorClass { return ErrorClassClient })

	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d attempts = %d, want 1/1", calls, attempts)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Exhausted {
		t.Errorf("error = %v, want non-exhausted FetchError", err)
	}
}

func TestRetryWithBackoff_WrapsPlainErrors(t *testing.T) {
	boom := errors.New("boom")
	attempts, err := retryWithBackoff(context.Background(), RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}, func(int) error {
		return boom
	}, func(error) ErrorClass { return ErrorClassNetwork })

	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want to wrap boom", err)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
}
