package chain

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// fanOutLimit caps concurrent per-item calls so a large batch does
// not stampede the node.
const fanOutLimit = 10

// FanOut derives a plural operation from a singular one: one
// concurrent call per input item, each awaited independently. A
// failing item yields a nil slot at its index and a log record with
// the handler name, the offending input, and the failure reason;
// sibling items are unaffected. The output always has exactly one
// slot per input.
func FanOut[T any, R any](
	ctx context.Context,
	log *slog.Logger,
	handler string,
	items []T,
	fn func(ctx context.Context, item T) (R, error),
) ([]*R, error) {
	if log == nil {
		log = slog.Default()
	}

	out := make([]*R, len(items))

	g := errgroup.Group{}
	g.SetLimit(fanOutLimit)
	for i, item := range items {
		g.Go(func() error {
			r, err := fn(ctx, item)
			if err != nil {
				log.Warn("fan-out item failed",
					"handler", handler,
					"input", fmt.Sprintf("%v", item),
					"error", err,
				)
				return nil
			}
			out[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	if len(out) != len(items) {
		// cannot happen with the slot-per-input construction above;
		// kept as the documented invariant breach
		return nil, fmt.Errorf("fan-out %s: %d inputs but %d outputs", handler, len(items), len(out))
	}
	return out, nil
}
