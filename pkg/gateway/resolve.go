package gateway

import (
	"context"
	"fmt"
)

// UpstreamError aggregates a failed primary gateway call and the failed REST
// fallback that followed it. It is the only error shape the resolver
// surfaces when both paths are down.
type UpstreamError struct {
	Primary   error
	Secondary error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("both upstream paths failed: gateway: %v; rest fallback: %v", e.Primary, e.Secondary)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{e.Primary, e.Secondary}
}

// Resolve runs primary and, only when it fails, makes exactly one secondary
// attempt. A successful primary result is never second-guessed, and there is
// no further chaining: worst case latency is bounded by the two call
// timeouts.
func Resolve[T any](ctx context.Context, primary, secondary func(context.Context) (T, error)) (T, error) {
	out, perr := primary(ctx)
	if perr == nil {
		return out, nil
	}

	out, serr := secondary(ctx)
	if serr == nil {
		return out, nil
	}

	var zero T
	return zero, &UpstreamError{Primary: perr, Secondary: serr}
}
