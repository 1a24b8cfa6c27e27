package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// startRequest builds a campaign request from the --to, --message, --count and --interval flags.
//
// Unset counts and intervals fall back to the [blast] config section.
func (r *Runner) startRequest(cmd *cli.Command) tasks.StartRequest {
	var recipients []models.Recipient
	for _, v := range cmd.StringSlice("to") {
		for _, id := range shared.SplitList(v) {
			recipients = append(recipients, models.Recipient{ID: id})
		}
	}

	count := cmd.Int("count")
	if count == 0 {
		count = r.config.Blast.DefaultMessagesPerRecipient
	}
	interval := cmd.Duration("interval")
	if interval == 0 {
		interval = r.config.Blast.Interval()
	}

	return tasks.StartRequest{
		Recipients:           recipients,
		Message:              cmd.String("message"),
		MessagesPerRecipient: count,
		Interval:             interval,
	}
}

// BlastStart begins a campaign and sends its first message.
func (r *Runner) BlastStart(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	snap, err := r.campaigns.Start(ctx, cmd.String("session"), r.startRequest(cmd))
	if errors.Is(err, shared.ErrCampaignActive) {
		r.writeSnapshot(snap, cmd.Bool("json"))
		return fmt.Errorf("%w: cancel it with 'kcx blast cancel' first", err)
	}
	if err != nil {
		return err
	}
	return r.writeSnapshot(snap, cmd.Bool("json"))
}

// BlastNext sends the next message when it is due.
func (r *Runner) BlastNext(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	snap, err := r.campaigns.Advance(ctx, cmd.String("session"))
	if errors.Is(err, shared.ErrNoActiveCampaign) && snap.IsComplete {
		return r.writeSnapshot(snap, cmd.Bool("json"))
	}
	if err != nil {
		if snap.ID != "" {
			r.writeSnapshot(snap, cmd.Bool("json"))
		}
		return err
	}
	return r.writeSnapshot(snap, cmd.Bool("json"))
}

// BlastStatus reports progress without sending.
func (r *Runner) BlastStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	snap, err := r.campaigns.Status(ctx, cmd.String("session"))
	if err != nil {
		return err
	}
	return r.writeSnapshot(snap, cmd.Bool("json"))
}

// BlastCancel discards the campaign.
func (r *Runner) BlastCancel(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	snap, err := r.campaigns.Cancel(ctx, cmd.String("session"))
	if err != nil {
		return err
	}
	return r.writeSnapshot(snap, cmd.Bool("json"))
}

// BlastRun drives the session's campaign to completion, printing each step.
func (r *Runner) BlastRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	key := cmd.String("session")
	if len(cmd.StringSlice("to")) > 0 {
		snap, err := r.campaigns.Start(ctx, key, r.startRequest(cmd))
		if err != nil {
			return err
		}
		r.writePlain("→ %s\n", snap.Message)
	}

	driver := tasks.NewDriver(r.campaigns, r.config.Blast.PollInterval(), r.logger)
	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for update := range progress {
			if update.Phase == tasks.Waiting {
				r.logger.Debug(update.Message)
				continue
			}
			r.writeProgress(update)
		}
	}()

	_, err := driver.Run(ctx, key, progress)
	close(progress)
	<-done
	return err
}

func (r *Runner) writeProgress(u tasks.ProgressUpdate) {
	r.writePlain("%-9s %s\n", u.Phase, u.Message)
}
