// Package feed defines the abstract source contract the pipeline
// consumes. Only this contract is in scope per spec.md §1; concrete
// exchange connectors (binance, coinbase, ...) are external
// collaborators, as are the two adapters this package ships (mock
// and kafkafeed), which exist to exercise the contract, not to model
// any particular exchange.
package feed

import (
	"context"

	"github.com/marketspine/marketspine/internal/event"
)

// Feed produces RawEvents onto out until ctx is cancelled or Stop is
// called. Run blocks while it produces, so callers run it in its own
// goroutine; it returns once its context is done or Stop is called.
type Feed interface {
	Run(ctx context.Context, out chan<- event.RawEvent) error
	Stop()
	Name() string
}
