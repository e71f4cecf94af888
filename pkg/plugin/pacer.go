package plugin

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer limits the packet rate of an input. A nil Pacer never waits.
type Pacer struct {
	limiter *rate.Limiter
	burst   int
}

// NewPacer returns a pacer allowing pps packets per second, or nil when pps
// is not positive.
func NewPacer(pps int) *Pacer {
	if pps <= 0 {
		return nil
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(pps), pps), burst: pps}
}

// Wait blocks until n packets may be emitted or ctx is done.
func (p *Pacer) Wait(ctx context.Context, n int) error {
	if p == nil {
		return nil
	}
	for n > 0 {
		k := min(n, p.burst)
		if err := p.limiter.WaitN(ctx, k); err != nil {
			return err
		}
		n -= k
	}
	return nil
}
