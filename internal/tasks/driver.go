package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
)

// DefaultMaxErrors is how many consecutive failed advances a [Driver] tolerates.
const DefaultMaxErrors = 3

// Advancer advances a session's campaign by at most one message.
type Advancer interface {
	Advance(ctx context.Context, sessionKey string) (models.Snapshot, error)
}

// Driver is the client-side pacing loop: it calls Advance until the campaign completes, sleeping for
// the reported wait between calls.
type Driver struct {
	campaigns Advancer
	limiter   *rate.Limiter
	maxErrors int
	logger    *log.Logger
}

// NewDriver creates a [Driver] that calls Advance at most once per poll interval.
func NewDriver(campaigns Advancer, poll time.Duration, logger *log.Logger) *Driver {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Driver{
		campaigns: campaigns,
		limiter:   rate.NewLimiter(rate.Every(poll), 1),
		maxErrors: DefaultMaxErrors,
		logger:    logger,
	}
}

// Run drives the session's campaign until it completes, is cancelled or ctx ends.
func (d *Driver) Run(ctx context.Context, sessionKey string, progress chan<- ProgressUpdate) (models.Snapshot, error) {
	var (
		last   models.Snapshot
		errs   int
		logger = shared.WithLogger(d.logger, "session", sessionKey)
	)

	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return last, err
		}

		snap, err := d.campaigns.Advance(ctx, sessionKey)
		if err != nil {
			if errors.Is(err, shared.ErrNoActiveCampaign) {
				if snap.IsComplete {
					sendProgress(progress, completedUpdate(snap))
					return snap, nil
				}
				sendProgress(progress, failedUpdate(last, err))
				return last, err
			}
			if snap.State == models.CampaignCancelled.String() {
				sendProgress(progress, cancelledUpdate(snap, err))
				return snap, err
			}

			errs++
			if snap.ID != "" {
				last = snap
			}
			if errs >= d.maxErrors {
				logger.Error("giving up on campaign", "errors", errs, "error", err)
				sendProgress(progress, failedUpdate(last, err))
				return last, err
			}
			logger.Warn("advance failed", "attempt", errs, "error", err)
			sendProgress(progress, retryUpdate(last, err))
			continue
		}

		errs = 0
		if snap.Sent > last.Sent {
			sendProgress(progress, sentUpdate(snap))
		}
		last = snap

		if snap.IsComplete {
			sendProgress(progress, completedUpdate(snap))
			return snap, nil
		}

		if snap.WaitSeconds > 0 {
			sendProgress(progress, waitingUpdate(snap))
			if err := sleep(ctx, time.Duration(snap.WaitSeconds*float64(time.Second))); err != nil {
				return last, err
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
