package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := Policy{MaxAttempts: 5, Initial: 100 * time.Millisecond, Max: 350 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestConstantBackoff(t *testing.T) {
	p := Policy{Initial: time.Second, Multiplier: 1}
	if p.Backoff(1) != time.Second || p.Backoff(7) != time.Second {
		t.Fatalf("expected constant delay")
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	p := Policy{MaxAttempts: 5, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
	calls := 0
	err := p.Do(context.Background(), "connect", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoGivesUp(t *testing.T) {
	p := Policy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2}
	boom := errors.New("refused")
	calls := 0
	err := p.Do(context.Background(), "connect", func(context.Context) error {
		calls++
		return boom
	})
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestDoHonorsContext(t *testing.T) {
	p := Policy{MaxAttempts: 100, Initial: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "enumerate", func(context.Context) error { return errors.New("no") })
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}
