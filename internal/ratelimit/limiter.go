// Package ratelimit mutes peers that trip a handler too often.
package ratelimit

import (
	"sync"
	"time"
)

type record struct {
	strikes []time.Time
	mutedAt time.Time
}

// Limiter counts strikes per peer and mutes a peer once it collects max
// strikes within window. A mute lasts for lockout.
type Limiter struct {
	max     int
	window  time.Duration
	lockout time.Duration

	mu      sync.Mutex
	records map[int64]*record
	now     func() time.Time
}

// New creates a Limiter.
func New(maxStrikes int, window, lockout time.Duration) *Limiter {
	return &Limiter{
		max:     maxStrikes,
		window:  window,
		lockout: lockout,
		records: make(map[int64]*record),
		now:     time.Now,
	}
}

// Muted reports whether peerID is muted and for how much longer.
func (l *Limiter) Muted(peerID int64) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.records[peerID]
	if r == nil || r.mutedAt.IsZero() {
		return 0, false
	}
	elapsed := l.now().Sub(r.mutedAt)
	if elapsed < l.lockout {
		return l.lockout - elapsed, true
	}
	delete(l.records, peerID)
	return 0, false
}

// Strike records one strike against peerID and reports whether it caused a
// mute.
func (l *Limiter) Strike(peerID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r := l.records[peerID]
	if r == nil {
		r = &record{}
		l.records[peerID] = r
	}
	if !r.mutedAt.IsZero() {
		if now.Sub(r.mutedAt) < l.lockout {
			return false
		}
		*r = record{}
	}

	cutoff := now.Add(-l.window)
	fresh := r.strikes[:0]
	for _, t := range r.strikes {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	r.strikes = append(fresh, now)

	if len(r.strikes) >= l.max {
		r.mutedAt = now
		r.strikes = nil
		return true
	}
	return false
}

// Reset clears a peer's strikes and any mute.
func (l *Limiter) Reset(peerID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, peerID)
}
