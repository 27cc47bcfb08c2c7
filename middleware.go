package xpub

import (
	"context"
	"fmt"
	"time"
)

// TimeoutMiddleware bounds a send attempt. The send runs in its own goroutine so
// the bound holds even when a backend ignores ctx; on expiry it returns
// context.DeadlineExceeded and leaves the straggler to the (already dropped) connection.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Sender) Sender { return next }
	}
	return func(next Sender) Sender {
		return func(ctx context.Context, msg *Message) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("panic recovered: %v", r)
					}
				}()
				errCh <- next(tctx, msg)
			}()

			select {
			case <-tctx.Done():
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware converts a panicking send into an error so the dispatcher
// treats it like any other failure.
func RecoveryMiddleware() Middleware {
	return func(next Sender) Sender {
		return func(ctx context.Context, msg *Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// Chain composes middlewares around a sender in order.
func Chain(s Sender, mws ...Middleware) Sender {
	if len(mws) == 0 {
		return s
	}
	wrapped := s
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
