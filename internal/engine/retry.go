package engine

import (
	"context"
	"time"

	"github.com/rgthelen/alp/pkg/schema"
)

// shouldRetry decides whether an error kind matches the policy. With an
// explicit "on" list only the listed kinds retry; otherwise everything but
// validation failures and cancellation retries.
func shouldRetry(policy *schema.Retry, err error) bool {
	if policy == nil || policy.MaxAttempts <= 1 {
		return false
	}
	kind := schema.KindOf(err)
	if kind == schema.ErrCancelled {
		return false
	}
	if len(policy.On) > 0 {
		for _, k := range policy.On {
			if kindMatches(k, kind) {
				return true
			}
		}
		return false
	}
	return kind != schema.ErrType
}

// kindMatches accepts both the wire form ("ERR_HTTP") and the documented
// camel form ("ErrHTTP") in @retry.on lists.
func kindMatches(declared, kind string) bool {
	if declared == kind {
		return true
	}
	return canonicalKind(declared) == kind
}

func canonicalKind(name string) string {
	switch name {
	case "ErrSyntax":
		return schema.ErrSyntax
	case "ErrType":
		return schema.ErrType
	case "ErrUnresolved":
		return schema.ErrUnresolved
	case "ErrDuplicate":
		return schema.ErrDuplicate
	case "ErrMath":
		return schema.ErrMath
	case "ErrOp":
		return schema.ErrOp
	case "ErrCapability":
		return schema.ErrCapability
	case "ErrIO":
		return schema.ErrIO
	case "ErrHTTP":
		return schema.ErrHTTP
	case "ErrTool":
		return schema.ErrTool
	case "ErrLLM":
		return schema.ErrLLM
	case "ErrTimeout":
		return schema.ErrTimeout
	case "ErrCancelled":
		return schema.ErrCancelled
	case "ErrFlowDepth":
		return schema.ErrFlowDepth
	case "ErrRetryExhausted":
		return schema.ErrRetryExhausted
	}
	return name
}

// backoffDelay computes the exponential delay before the given retry
// attempt (1-based): backoff_ms * 2^(attempt-1).
func backoffDelay(policy *schema.Retry, attempt int) time.Duration {
	if policy == nil || policy.BackoffMS <= 0 {
		return 0
	}
	delay := time.Duration(policy.BackoffMS) * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// waitForBackoff sleeps for the delay or returns early on cancellation.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return schema.NewError(schema.ErrCancelled, "cancelled during retry backoff").WithCause(ctx.Err())
	}
}
