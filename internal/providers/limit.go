package providers

import (
	"context"

	"github.com/failsafe-go/failsafe-go/bulkhead"
)

// DetailFetchLimit caps how many detail pages one adapter fetches at once.
const DetailFetchLimit = 5

// Limiter bounds concurrent page fetches against a single host.
type Limiter struct {
	bh bulkhead.Bulkhead[any]
}

// NewLimiter allows at most n calls in flight; n <= 0 uses DetailFetchLimit.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = DetailFetchLimit
	}
	return &Limiter{bh: bulkhead.New[any](uint(n))}
}

// Do runs fn once a slot is free. It gives up when ctx is done first.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.bh.AcquirePermit(ctx); err != nil {
		return err
	}
	defer l.bh.ReleasePermit()
	return fn()
}
