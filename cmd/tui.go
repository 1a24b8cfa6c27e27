package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/ui"
	"github.com/urfave/cli/v3"
)

const tuiLogPath = "./tmp/kcx-tui.log"

// TUI launches the interactive contact picker and campaign monitor.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	req := r.startRequest(cmd)
	return r.runUI(ctx, ui.Options{
		SessionKey:           cmd.String("session"),
		Recipients:           req.Recipients,
		Message:              req.Message,
		MessagesPerRecipient: req.MessagesPerRecipient,
		Interval:             req.Interval,
	})
}

// BlastWatch attaches the monitor to the session's running campaign.
func (r *Runner) BlastWatch(ctx context.Context, cmd *cli.Command) error {
	return r.runUI(ctx, ui.Options{SessionKey: cmd.String("session"), Watch: true})
}

func (r *Runner) runUI(ctx context.Context, opts ui.Options) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	closeLog, err := r.fileLogger(tuiLogPath)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := r.open(); err != nil {
		return err
	}

	if opts.SessionKey == "" {
		opts.SessionKey = cliSession
	}
	opts.Contacts = r.platform
	opts.Campaigns = r.campaigns
	opts.PollInterval = r.config.Blast.PollInterval()

	model := ui.NewModel(ctx, opts)
	final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	if m, ok := final.(*ui.Model); ok {
		if m.Err() != nil {
			return m.Err()
		}
		if snap := m.Snapshot(); snap.ID != "" {
			return r.writeSnapshot(snap, false)
		}
	}
	return nil
}

func (r *Runner) fileLogger(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}

	logger := shared.NewLogger(f)
	logger.SetLevel(r.logger.GetLevel())
	r.SetLogger(logger)
	return func() { f.Close() }, nil
}
