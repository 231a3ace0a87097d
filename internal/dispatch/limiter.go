package dispatch

import (
	"context"
	"sync"
	"time"
)

// Window is a rolling-window ceiling: at most Max admissions in any span of
// length Per.
type Window struct {
	Max int
	Per time.Duration
}

// windowLimiter admits requests against one or more rolling windows. It keeps
// the admission times inside the longest window and can be paused.
type windowLimiter struct {
	mu          sync.Mutex
	windows     []Window
	longest     time.Duration
	log         []time.Time
	pausedUntil time.Time
	now         func() time.Time
}

func newWindowLimiter(windows []Window) *windowLimiter {
	l := &windowLimiter{now: time.Now}
	for _, w := range windows {
		if w.Max <= 0 || w.Per <= 0 {
			continue
		}
		l.windows = append(l.windows, w)
		if w.Per > l.longest {
			l.longest = w.Per
		}
	}
	return l
}

// Wait blocks until every window has room and no pause is active, then
// records the admission.
func (l *windowLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := l.reserve()
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reserve records an admission and returns 0, or returns how long to wait.
func (l *windowLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.pausedUntil) {
		return l.pausedUntil.Sub(now)
	}

	// Drop admissions older than the longest window.
	cut := 0
	for cut < len(l.log) && now.Sub(l.log[cut]) >= l.longest {
		cut++
	}
	l.log = l.log[cut:]

	var wait time.Duration
	for _, w := range l.windows {
		// Admissions still inside this window, oldest first.
		start := len(l.log)
		for i, ts := range l.log {
			if now.Sub(ts) < w.Per {
				start = i
				break
			}
		}
		inWindow := l.log[start:]
		if len(inWindow) < w.Max {
			continue
		}
		// The slot frees when the oldest admission that keeps us at the
		// ceiling leaves the window.
		free := inWindow[len(inWindow)-w.Max].Add(w.Per).Sub(now)
		if free > wait {
			wait = free
		}
	}
	if wait > 0 {
		return wait
	}
	l.log = append(l.log, now)
	return 0
}

// Pause stops admissions for d. A shorter pause never cuts an active one.
func (l *windowLimiter) Pause(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.now().Add(d); until.After(l.pausedUntil) {
		l.pausedUntil = until
	}
}
