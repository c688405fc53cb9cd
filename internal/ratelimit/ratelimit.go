// Package ratelimit provides sliding-window admission control keyed by caller.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Limiter interface {
	Allow(ctx context.Context, key string, maxEvents int, window time.Duration) (bool, error)
}

// SlidingWindow keeps admitted timestamps per key in process memory. State is
// lost on restart and is not shared between instances.
type SlidingWindow struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{events: make(map[string][]time.Time), now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (l *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	l.now = now
	return l
}

// Allow prunes timestamps older than now-window and admits iff fewer than
// maxEvents remain. Prune, count and append happen under one lock.
func (l *SlidingWindow) Allow(_ context.Context, key string, maxEvents int, window time.Duration) (bool, error) {
	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.events[key]
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	ts = ts[i:]

	if len(ts) >= maxEvents {
		l.store(key, ts)
		return false, nil
	}
	l.events[key] = append(ts, now)
	return true, nil
}

func (l *SlidingWindow) store(key string, ts []time.Time) {
	if len(ts) == 0 {
		delete(l.events, key)
		return
	}
	l.events[key] = ts
}

// NoOp always admits.
type NoOp struct{}

func (NoOp) Allow(context.Context, string, int, time.Duration) (bool, error) { return true, nil }
