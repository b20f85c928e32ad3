// Package jitter вычисляет задержки повторных попыток со случайной добавкой,
// чтобы клиенты не повторяли запросы синхронно.
package jitter

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultJitter — стандартный коэффициент джиттера (50%)
const DefaultJitter = 0.5

// Duration возвращает d со случайной добавкой в диапазоне [d, d*(1+jitterFactor)].
func Duration(d time.Duration, jitterFactor float64) time.Duration {
	if d <= 0 || jitterFactor <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*jitterFactor*float64(d))
}

// ExponentialBackoff удваивает base на каждую попытку (нумерация с нуля), не превышая max,
// и добавляет джиттер.
func ExponentialBackoff(base, max time.Duration, attempt int, jitterFactor float64) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff > max {
			backoff = max
			break
		}
	}
	return Duration(backoff, jitterFactor)
}

// Sleep ждёт d или отмены ctx. Возвращает ctx.Err(), если ожидание прервано.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
