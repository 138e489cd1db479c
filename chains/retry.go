package chains

import (
	"context"
	"time"

	"github.com/kamiyo/x402/types"
)

// retryPolicy bounds the RPC attempts an adapter makes before surfacing
// adapter_unavailable. Unresponsive nodes are an expected failure mode,
// so every attempt gets its own hard timeout independent of whatever the
// RPC library defaults to.
type retryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		Attempts:       types.DefaultRetryCount,
		InitialBackoff: 200 * time.Millisecond,
		AttemptTimeout: types.DefaultFetchTimeout,
	}
}

// tune applies operator overrides; zero values keep the defaults.
func (p *retryPolicy) tune(attempts int, attemptTimeout time.Duration) {
	if attempts > 0 {
		p.Attempts = attempts
	}
	if attemptTimeout > 0 {
		p.AttemptTimeout = attemptTimeout
	}
}

// do runs fn with bounded retries and exponential backoff. Terminal
// facilitator errors (not found, mismatches) abort immediately; only
// transport-level failures burn retry budget.
func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return &types.Error{Code: types.ErrAdapterUnavailable, Message: ctx.Err().Error()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if fe, ok := err.(*types.Error); ok && fe.Code != types.ErrAdapterUnavailable {
			return err
		}
		lastErr = err
	}

	return &types.Error{
		Code:    types.ErrAdapterUnavailable,
		Message: "rpc endpoint failed after retries: " + lastErr.Error(),
	}
}
