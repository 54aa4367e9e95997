package flow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Countdown mirrors the server-issued expiry for display. The server stays
// authoritative; a countdown at zero only means the UI should offer a resend.
type Countdown struct {
	mu       sync.Mutex
	deadline time.Time
	now      func() time.Time
}

func NewCountdown(now func() time.Time) *Countdown {
	if now == nil {
		now = time.Now
	}
	return &Countdown{now: now}
}

// Reset restarts the countdown at seconds from now.
func (c *Countdown) Reset(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = c.now().Add(time.Duration(seconds) * time.Second)
}

func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = time.Time{}
}

// Remaining rounds up so a fresh 300s countdown reads 300, not 299.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deadline.IsZero() {
		return 0
	}
	left := c.deadline.Sub(c.now())
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (c *Countdown) Expired() bool {
	return c.Remaining() == 0
}

// Run calls onTick once per interval with the seconds left until ctx is done
// or the countdown reaches zero.
func (c *Countdown) Run(ctx context.Context, interval time.Duration, onTick func(remaining int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			left := c.Remaining()
			onTick(left)
			if left == 0 {
				return
			}
		}
	}
}

// FormatCountdown renders seconds as mm:ss.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
