package jitter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffBounds(t *testing.T) {
	base, max := time.Second, 30*time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			got := ExponentialBackoff(base, max, tt.attempt, DefaultJitter)
			if got < tt.want || got > tt.want+time.Duration(DefaultJitter*float64(tt.want)) {
				t.Fatalf("attempt %d: backoff %v out of [%v, %v]", tt.attempt, got, tt.want, tt.want*3/2)
			}
		}
	}
}

func TestDurationWithoutJitter(t *testing.T) {
	if got := Duration(time.Second, 0); got != time.Second {
		t.Errorf("Duration(1s, 0) = %v", got)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep = %v, want context.Canceled", err)
	}
}
