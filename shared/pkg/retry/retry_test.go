package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoAttempts(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		failUntil int
		wantCalls int
		wantErr   bool
	}{
		{"first try succeeds", Fixed(3, time.Millisecond), 0, 1, false},
		{"succeeds on third", Fixed(3, time.Millisecond), 2, 3, false},
		{"exhausts three attempts", Fixed(3, time.Millisecond), 10, 3, true},
		{"zero attempts means one", Fixed(0, time.Millisecond), 10, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.config, func() error {
				calls++
				if calls <= tt.failUntil {
					return errors.New("busy")
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPermanentStopsRetrying(t *testing.T) {
	gone := errors.New("gone")
	calls := 0
	err := Do(context.Background(), Fixed(5, time.Millisecond), func() error {
		calls++
		return Permanent(gone)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err != gone {
		t.Errorf("err = %v, want the unwrapped permanent error", err)
	}
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultConfig(), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDoNotify(t *testing.T) {
	var attempts []int
	_ = DoNotify(context.Background(), Fixed(3, time.Millisecond), func() error {
		return errors.New("fail")
	}, func(attempt int, err error, next time.Duration) {
		attempts = append(attempts, attempt)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("notify attempts = %v, want [1 2]", attempts)
	}
}

func TestExponentialBackoffIsCapped(t *testing.T) {
	cfg := Config{MaxRetries: 4, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Multiplier: 2}
	var pauses []time.Duration
	err := DoNotify(context.Background(), cfg, func() error {
		return errors.New("device or resource busy")
	}, func(_ int, _ error, next time.Duration) {
		pauses = append(pauses, next)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	if len(pauses) != len(want) {
		t.Fatalf("pauses = %v, want %v", pauses, want)
	}
	for i := range want {
		if pauses[i] != want[i] {
			t.Errorf("pause %d = %v, want %v", i, pauses[i], want[i])
		}
	}
}
