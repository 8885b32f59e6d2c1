package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/retry"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Do(context.Background(), retry.DefaultConfig, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesOnceThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	cfg := retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}
	err := retry.Do(context.Background(), cfg, func() error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_ReturnsLastError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("still broken")
	cfg := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond}
	err := retry.Do(context.Background(), cfg, func() error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
}

func TestDo_ShouldRetryStopsEarly(t *testing.T) {
	t.Parallel()

	permanent := errors.New("validation")
	calls := 0
	cfg := retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		ShouldRetry:  func(err error) bool { return !errors.Is(err, permanent) },
	}
	err := retry.Do(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent errors)", calls)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		t.Fatal("fn must not run with cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
