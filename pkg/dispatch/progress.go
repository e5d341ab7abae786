package dispatch

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/richard-senior/mcpcore/pkg/protocol"
)

// ProgressSender emits a `notifications/progress` message. No type in
// this module implements it: Server.SendProgress takes the token and
// values as separate arguments, and the client runtime sends no progress.
type ProgressSender interface {
	SendProgress(params protocol.ProgressParams) error
}

// ProgressTracker throttles progress emission per token to at most one
// notification per minInterval, per spec.md §4.4, using a token-bucket
// limiter so the first update for a token always goes through
// immediately and bursts beyond the rate are dropped rather than queued.
type ProgressTracker struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	minInterval time.Duration
}

// NewProgressTracker returns a tracker that allows at most one progress
// notification per minInterval for any given progress token.
func NewProgressTracker(minInterval time.Duration) *ProgressTracker {
	if minInterval <= 0 {
		minInterval = time.Millisecond
	}
	return &ProgressTracker{
		limiters:    make(map[string]*rate.Limiter),
		minInterval: minInterval,
	}
}

// Allow reports whether a progress update for token may be sent now. It
// is safe to call from multiple goroutines for different tokens
// concurrently.
func (p *ProgressTracker) Allow(token json.RawMessage) bool {
	key := string(token)
	p.mu.Lock()
	lim, ok := p.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(p.minInterval), 1)
		p.limiters[key] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}

// Forget releases the limiter state for token once the operation it was
// tracking has completed, so long-lived servers don't accumulate one
// limiter per historical progress token.
func (p *ProgressTracker) Forget(token json.RawMessage) {
	p.mu.Lock()
	delete(p.limiters, string(token))
	p.mu.Unlock()
}
