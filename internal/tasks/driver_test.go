package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
	tu "github.com/desertthunder/kcx/internal/testing"
)

type step struct {
	snap models.Snapshot
	err  error
}

type scriptedAdvancer struct {
	steps []step
	calls int
}

func (a *scriptedAdvancer) Advance(context.Context, string) (models.Snapshot, error) {
	a.calls++
	if len(a.steps) == 0 {
		return models.Snapshot{}, shared.ErrNoActiveCampaign
	}
	s := a.steps[0]
	a.steps = a.steps[1:]
	return s.snap, s.err
}

func running(sent, total int, wait float64) models.Snapshot {
	return models.Snapshot{ID: "c1", State: "running", Sent: sent, Total: total, WaitSeconds: wait}
}

func done(total int) models.Snapshot {
	return models.Snapshot{ID: "c1", State: "completed", Sent: total, Total: total, IsComplete: true, Progress: 100}
}

func drain(ch chan ProgressUpdate) []ProgressUpdate {
	var out []ProgressUpdate
	for {
		select {
		case u := <-ch:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestDriver(t *testing.T) {
	ctx := context.Background()
	poll := time.Millisecond

	t.Run("runs to completion", func(t *testing.T) {
		adv := &scriptedAdvancer{steps: []step{
			{snap: running(1, 3, 0.001)},
			{snap: running(2, 3, 0)},
			{snap: done(3)},
		}}
		progress := make(chan ProgressUpdate, 16)

		snap, err := NewDriver(adv, poll, nil).Run(ctx, "s1", progress)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !snap.IsComplete || adv.calls != 3 {
			t.Errorf("expected completion after 3 calls, got %+v after %d", snap, adv.calls)
		}

		updates := drain(progress)
		if len(updates) == 0 || updates[len(updates)-1].Phase != Completed {
			t.Errorf("expected final completed update, got %+v", updates)
		}
	})

	t.Run("retries transient errors", func(t *testing.T) {
		adv := &scriptedAdvancer{steps: []step{
			{snap: running(1, 2, 0), err: shared.ErrAPIRequest},
			{snap: done(2)},
		}}

		snap, err := NewDriver(adv, poll, nil).Run(ctx, "s1", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !snap.IsComplete {
			t.Error("expected completion")
		}
	})

	t.Run("gives up after repeated errors", func(t *testing.T) {
		adv := &scriptedAdvancer{}
		for i := 0; i < DefaultMaxErrors; i++ {
			adv.steps = append(adv.steps, step{snap: running(1, 2, 0), err: shared.ErrAPIRequest})
		}
		progress := make(chan ProgressUpdate, 16)

		_, err := NewDriver(adv, poll, nil).Run(ctx, "s1", progress)
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Fatalf("expected ErrAPIRequest, got %v", err)
		}
		if adv.calls != DefaultMaxErrors {
			t.Errorf("expected %d calls, got %d", DefaultMaxErrors, adv.calls)
		}
		updates := drain(progress)
		if updates[len(updates)-1].Phase != Failed {
			t.Errorf("expected failed update, got %v", updates[len(updates)-1].Phase)
		}
	})

	t.Run("stops when cancelled by auth failures", func(t *testing.T) {
		cancelled := running(1, 3, 0)
		cancelled.State = "cancelled"
		adv := &scriptedAdvancer{steps: []step{
			{snap: running(1, 3, 0), err: shared.ErrAuthenticationFailed},
			{snap: cancelled, err: shared.ErrAuthenticationFailed},
		}}

		snap, err := NewDriver(adv, poll, nil).Run(ctx, "s1", nil)
		if !errors.Is(err, shared.ErrAuthenticationFailed) {
			t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
		}
		if snap.State != "cancelled" {
			t.Errorf("expected cancelled snapshot, got %s", snap.State)
		}
	})

	t.Run("missing campaign", func(t *testing.T) {
		_, err := NewDriver(&scriptedAdvancer{}, poll, nil).Run(ctx, "s1", nil)
		if !errors.Is(err, shared.ErrNoActiveCampaign) {
			t.Errorf("expected ErrNoActiveCampaign, got %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		adv := &scriptedAdvancer{steps: []step{{snap: running(1, 2, 60)}}}
		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		snap, err := NewDriver(adv, poll, nil).Run(ctx, "s1", nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if snap.Sent != 1 {
			t.Errorf("expected last snapshot, got %+v", snap)
		}
	})

	t.Run("drives a real dispatcher", func(t *testing.T) {
		f := newFixture(nil)
		req := request("a", "b")
		req.Interval = models.MinInterval
		f.dispatcher.now = time.Now

		if _, err := f.dispatcher.Start(ctx, "s1", req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		snap, err := NewDriver(f.dispatcher, 10*time.Millisecond, tu.NopLogger()).Run(ctx, "s1", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !snap.IsComplete || len(f.messenger.calls()) != 2 {
			t.Errorf("expected 2 sends and completion, got %+v", snap)
		}
	})
}

func TestDefaultLoggers(t *testing.T) {
	t.Run("driver", func(t *testing.T) {
		d := NewDriver(&scriptedAdvancer{}, 0, nil)
		if d.logger == nil || d.logger == log.Default() {
			t.Error("expected a logger built by shared.NewLogger")
		}
	})

	t.Run("dispatcher", func(t *testing.T) {
		d := NewDispatcher(DispatcherOpts{Store: NewMemoryStore(), Messenger: &mockMessenger{}})
		if d.logger == nil || d.logger == log.Default() {
			t.Error("expected a logger built by shared.NewLogger")
		}
	})
}
