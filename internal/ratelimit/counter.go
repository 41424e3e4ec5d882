// Package ratelimit throttles repetitive log lines, such as publish failures
// while the broker is unreachable.
package ratelimit

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Counter tracks a total count and the last time a log was emitted.
// It is safe for concurrent use.
type Counter struct {
	interval   time.Duration
	lastLog    atomic.Int64
	total      atomic.Uint64
	suppressed atomic.Uint64
	now        func() time.Time
}

// NewCounter constructs a Counter that allows a log at most once per interval.
// A zero or negative interval disables throttling (always logs).
func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval, now: time.Now}
}

// Inc increments the counter and reports whether logging is allowed.
func (c *Counter) Inc() (uint64, bool) {
	if c == nil {
		return 0, false
	}
	total := c.total.Add(1)
	if c.interval <= 0 {
		return total, true
	}
	now := c.now().UnixNano()
	last := c.lastLog.Load()
	if last != 0 && now-last < c.interval.Nanoseconds() {
		c.suppressed.Add(1)
		return total, false
	}
	if c.lastLog.CompareAndSwap(last, now) {
		return total, true
	}
	c.suppressed.Add(1)
	return total, false
}

// Logf counts one event and logs it when the interval allows, noting how many
// events were swallowed since the previous line.
func (c *Counter) Logf(format string, args ...interface{}) bool {
	total, ok := c.Inc()
	if !ok {
		return false
	}
	msg := fmt.Sprintf(format, args...)
	if skipped := c.suppressed.Swap(0); skipped > 0 {
		msg = fmt.Sprintf("%s (%d similar suppressed, %d total)", msg, skipped, total)
	}
	log.Print(msg)
	return true
}

// Total returns how many events were counted.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}
