package hub

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter coalesces terminal output per session. onFlush runs with
// the limiter's lock held, so it must not block; this keeps every flush
// for a session in the order its data was added.
type RateLimiter struct {
	mu       sync.Mutex
	pending  map[string]*pendingOutput
	interval time.Duration
	onFlush  func(sessionID string, text string)
}

type pendingOutput struct {
	texts []string
	timer *time.Timer
}

func NewRateLimiter(interval time.Duration, onFlush func(sessionID string, text string)) *RateLimiter {
	return &RateLimiter{
		pending:  make(map[string]*pendingOutput),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(sessionID string, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pending[sessionID]
	if !exists {
		p = &pendingOutput{}
		r.pending[sessionID] = p
	}
	p.texts = append(p.texts, text)

	if p.timer == nil {
		p.timer = time.AfterFunc(r.interval, func() {
			r.Flush(sessionID)
		})
	}
}

// Flush emits the pending output of one session, if any.
func (r *RateLimiter) Flush(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(sessionID)
}

// Finish flushes the session's pending output and then calls final under
// the same lock. Nothing added for the session earlier can be emitted
// after final.
func (r *RateLimiter) Finish(sessionID string, final func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(sessionID)
	if final != nil {
		final()
	}
}

func (r *RateLimiter) flushLocked(sessionID string) {
	p, exists := r.pending[sessionID]
	if !exists {
		return
	}
	delete(r.pending, sessionID)
	if p.timer != nil {
		p.timer.Stop()
	}
	if r.onFlush != nil && len(p.texts) > 0 {
		r.onFlush(sessionID, strings.Join(p.texts, ""))
	}
}

func (r *RateLimiter) FlushAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.pending {
		r.flushLocked(id)
	}
}

func (r *RateLimiter) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
