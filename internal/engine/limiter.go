package engine

import (
	"context"

	"github.com/ytget/hls-downloader/internal/model"
)

// Limiter is a counting permit pool bounding concurrent segment workers.
// The number of outstanding permits never exceeds the configured size, and
// every Acquire is paired with exactly one Release on all worker exit paths.
type Limiter struct {
	permits chan struct{}
}

// NewLimiter creates a permit pool clamped to the allowed concurrency range
func NewLimiter(size int) *Limiter {
	if size < model.MinConcurrency {
		size = model.MinConcurrency
	}
	if size > model.MaxConcurrency {
		size = model.MaxConcurrency
	}
	return &Limiter{permits: make(chan struct{}, size)}
}

// Acquire blocks until a permit is available or ctx is done
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool
func (l *Limiter) Release() {
	<-l.permits
}

// Cap returns the configured maximum concurrency
func (l *Limiter) Cap() int {
	return cap(l.permits)
}

// InUse returns the number of currently outstanding permits
func (l *Limiter) InUse() int {
	return len(l.permits)
}
