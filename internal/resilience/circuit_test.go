package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDropped = NewTransientError(errors.New("connection reset by peer"))

func call(b *Breaker, err error) error {
	_, got := Guard(context.Background(), b, func(_ context.Context) (string, error) {
		return "", err
	})
	return got
}

func failN(b *Breaker, n int, err error) {
	for i := 0; i < n; i++ {
		_ = call(b, err)
	}
}

func TestBreaker_ClosedPassesValues(t *testing.T) {
	b := NewBreaker("legacy", 0, 0)
	val, err := Guard(context.Background(), b, func(_ context.Context) (string, error) {
		return "12345678000195", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "12345678000195" {
		t.Errorf("unexpected value %q", val)
	}
	if s := b.Stats(); s.State != "closed" || s.Name != "legacy" {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("legacy", 3, time.Minute)
	failN(b, 3, errDropped)

	var calls int
	_, err := Guard(context.Background(), b, func(_ context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if calls != 0 {
		t.Error("guarded call ran while open")
	}

	s := b.Stats()
	if s.State != "open" || s.Trips != 1 || s.Rejected != 1 || s.Failures != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestBreaker_PermanentErrorsDoNotCount(t *testing.T) {
	b := NewBreaker("legacy", 2, time.Minute)
	failN(b, 5, errors.New("syntax error at or near SELEC"))

	if s := b.Stats(); s.State != "closed" || s.Failures != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("legacy", 3, time.Minute)
	failN(b, 2, errDropped)
	_ = call(b, nil)
	failN(b, 2, errDropped)

	if s := b.Stats(); s.State != "closed" || s.Failures != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("legacy", 1, 30*time.Second)
	b.nowFunc = func() time.Time { return now }

	failN(b, 1, errDropped)
	if s := b.Stats(); s.State != "open" {
		t.Fatalf("expected open, got %s", s.State)
	}

	now = now.Add(31 * time.Second)
	if s := b.Stats(); s.State != "half-open" {
		t.Fatalf("expected half-open after cooldown, got %s", s.State)
	}
	if err := call(b, nil); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if s := b.Stats(); s.State != "closed" || s.Trips != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("legacy", 1, 30*time.Second)
	b.nowFunc = func() time.Time { return now }

	failN(b, 1, errDropped)
	now = now.Add(31 * time.Second)
	_ = call(b, errDropped)

	if s := b.Stats(); s.State != "open" || s.Trips != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
	if err := call(b, nil); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected rejection before the next cooldown, got %v", err)
	}
}

func TestBreaker_SingleProbeAtATime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("legacy", 1, 30*time.Second)
	b.nowFunc = func() time.Time { return now }
	failN(b, 1, errDropped)
	now = now.Add(31 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Guard(context.Background(), b, func(_ context.Context) (int, error) {
			close(entered)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-entered

	if err := call(b, nil); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("second call during probe: expected ErrBreakerOpen, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if s := b.Stats(); s.State != "closed" {
		t.Errorf("expected closed, got %s", s.State)
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := NewBreaker("legacy", 1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = call(b, errDropped)
				return
			}
			_ = call(b, nil)
		}(i)
	}
	wg.Wait()

	if s := b.Stats(); s.State != "closed" {
		t.Errorf("expected closed, got %s", s.State)
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := map[BreakerState]string{
		Closed:           "closed",
		Open:             "open",
		HalfOpen:         "half-open",
		BreakerState(42): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d: expected %s, got %s", state, want, got)
		}
	}
}
