package settlement

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited caps the request rate towards the wrapped settler.
type RateLimited struct {
	inner   Settler
	limiter *rate.Limiter
}

// NewRateLimited allows rps calls per second with a burst of rps.
func NewRateLimited(inner Settler, rps int) *RateLimited {
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), rps)}
}

func (r *RateLimited) Transfer(ctx context.Context, ins Instruction) (Status, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return StatusPending, err
	}
	return r.inner.Transfer(ctx, ins)
}

func (r *RateLimited) QueryStatus(ctx context.Context, idempotencyKey string) (Status, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return StatusPending, err
	}
	return r.inner.QueryStatus(ctx, idempotencyKey)
}
