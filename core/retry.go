package core

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

// Retry calls fn until it succeeds or fails with anything other than a
// connectivity error. Delays double from delay up to 8x delay. The error of
// the last attempt is returned as is.
func Retry(ctx context.Context, clk clock.Clock, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	err := retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return !errors.Is(err, ErrConnectivity)
		},
		Attempts:    attempts,
		Delay:       delay,
		MaxDelay:    8 * delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}
