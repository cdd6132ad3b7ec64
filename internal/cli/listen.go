package cli

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/clock"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
)

const (
	listenInitialBackoff = time.Second
	listenMaxBackoff     = 30 * time.Second
)

// pushSource is the push stream of a pipeline.
type pushSource interface {
	Listen(ctx context.Context) error
}

// rejoiner re-announces the signed-in user once the stream is back.
type rejoiner interface {
	Self() *models.Self
	Comeback(ctx context.Context) error
}

// keepListening runs src.Listen until ctx ends, reopening the stream with
// exponential backoff whenever it drops. Every reopened stream is followed
// by a Comeback when a user is signed in. An unauthorized stream is not
// retried.
func keepListening(ctx context.Context, src pushSource, r rejoiner, clk clock.Clock, logger logging.Logger) {
	backoff := listenInitialBackoff
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-clk.After(backoff):
			}
			if r.Self() != nil {
				if err := r.Comeback(ctx); err != nil {
					logger.Warn(ctx, "comeback failed", "attempt", attempt, "error", err)
				}
			}
		}

		started := clk.Now()
		err := src.Listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, pipeline.ErrUnauthorized) {
			logger.Error(ctx, "push stream rejected", "error", err)
			return
		}

		// A stream that stayed up for a while is a fresh failure.
		if clk.Now().Sub(started) >= listenMaxBackoff {
			backoff = listenInitialBackoff
		} else if attempt > 0 {
			backoff = min(backoff*2, listenMaxBackoff)
		}
		logger.Warn(ctx, "push stream ended, reconnecting", "backoff", backoff, "error", err)
	}
}
