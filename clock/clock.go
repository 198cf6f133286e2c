// Package clock tracks how long the current recording has been running.
package clock

import (
	"fmt"
	"sync"
	"time"
)

type Clock struct {
	now func() time.Time

	mu      sync.Mutex
	started time.Time
	stopped time.Duration
	running bool
}

func New() *Clock {
	return &Clock{now: time.Now}
}

// NewWithSource uses now instead of the wall clock.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Start resets the elapsed time to zero.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = c.now()
	c.stopped = 0
	c.running = true
}

// Stop freezes the elapsed time at its current value.
func (c *Clock) Stop() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.stopped = c.now().Sub(c.started)
		c.running = false
	}
	return c.stopped
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return c.now().Sub(c.started)
	}
	return c.stopped
}

func (c *Clock) String() string {
	return Format(c.Elapsed())
}

// Format renders d as MM:SS. Minutes are not wrapped at an hour.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Ticks sends the elapsed time every interval until done is closed.
func (c *Clock) Ticks(interval time.Duration, done <-chan struct{}) <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				select {
				case ch <- c.Elapsed():
				default:
				}
			}
		}
	}()
	return ch
}
