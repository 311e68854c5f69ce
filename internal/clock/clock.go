// Package clock abstracts time so stall detection, alarms and retry delays
// can be driven deterministically in tests. Production code uses Real();
// tests use Fake().
package clock

import "time"

type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTicker delivers ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. C has capacity 1; ticks are dropped when
// the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

func (t *Ticker) Stop() { t.stop() }

type realClock struct{}

func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
