package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"shadowbeta/internal/model"
)

// Throttled wraps a fetcher with a token-bucket limiter and a per-request
// timeout. A request that runs out of time is reported as ErrExternal.
type Throttled struct {
	next    model.HistoryFetcher
	limiter *rate.Limiter
	timeout time.Duration
}

// NewThrottled allows perSecond requests with the given burst. A
// non-positive perSecond disables the limiter.
func NewThrottled(next model.HistoryFetcher, perSecond float64, burst int, timeout time.Duration) *Throttled {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &Throttled{next: next, limiter: lim, timeout: timeout}
}

func (t *Throttled) FetchHistory(ctx context.Context, symbol string, days int) (model.PriceSeries, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return model.PriceSeries{}, fmt.Errorf("%w: rate limit wait for %s: %w", model.ErrExternal, symbol, err)
	}
	s, err := t.next.FetchHistory(ctx, symbol, days)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, model.ErrExternal) {
		return model.PriceSeries{}, fmt.Errorf("%w: %s timed out after %s: %w", model.ErrExternal, symbol, t.timeout, err)
	}
	return s, err
}
