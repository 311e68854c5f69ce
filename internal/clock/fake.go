package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance or Set is called.
// Pending After channels and tickers fire during Advance in deadline order.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
	interval time.Duration // non-zero for tickers
	stopped  bool
	fired    bool
}

func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.current.Add(d), ch: ch})
	return ch
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &fakeWaiter{deadline: c.current.Add(d), ch: ch, interval: d}
	c.waiters = append(c.waiters, w)

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.stopped = true
		},
	}
}

// Pending reports how many timers and tickers are waiting. Tests use it to
// wait until a goroutine has registered its timer before advancing.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// Set jumps the clock to t without firing anything.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance moves the clock forward by d and fires every waiter whose deadline
// falls within the new time. Sends never block.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)
	for {
		sort.SliceStable(c.waiters, func(i, j int) bool {
			return c.waiters[i].deadline.Before(c.waiters[j].deadline)
		})

		var next *fakeWaiter
		for _, w := range c.waiters {
			if !w.stopped && !w.fired && !w.deadline.After(target) {
				next = w
				break
			}
		}
		if next == nil {
			break
		}

		c.current = next.deadline
		select {
		case next.ch <- c.current:
		default:
		}
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			next.fired = true
		}
	}
	c.current = target

	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
}
