package tasks

import (
	"fmt"

	"github.com/desertthunder/kcx/internal/models"
)

// ProgressUpdate represents a progress event while a campaign is driven.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase    Phase           // Driver phase
	Step     int             // Messages sent so far
	Total    int             // Total messages in the campaign
	Message  string          // Human-readable message for display
	Snapshot models.Snapshot // Campaign state after the step
	Err      error           // Set when the step failed
}

// Driver phase enumeration
type Phase int

const (
	Sending Phase = iota
	Waiting
	Retrying
	Completed
	Cancelled
	Failed
)

func (p Phase) String() string {
	switch p {
	case Sending:
		return "sending"
	case Waiting:
		return "waiting"
	case Retrying:
		return "retrying"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func sentUpdate(s models.Snapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Sending,
		Step:     s.Sent,
		Total:    s.Total,
		Message:  fmt.Sprintf("[%d/%d] sent", s.Sent, s.Total),
		Snapshot: s,
	}
}

func waitingUpdate(s models.Snapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Waiting,
		Step:     s.Sent,
		Total:    s.Total,
		Message:  fmt.Sprintf("[%d/%d] next send in %.1fs", s.Sent, s.Total, s.WaitSeconds),
		Snapshot: s,
	}
}

func retryUpdate(s models.Snapshot, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Retrying,
		Step:     s.Sent,
		Total:    s.Total,
		Message:  fmt.Sprintf("[%d/%d] ✗ %v, retrying", s.Sent, s.Total, err),
		Snapshot: s,
		Err:      err,
	}
}

func completedUpdate(s models.Snapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Completed,
		Step:     s.Sent,
		Total:    s.Total,
		Message:  fmt.Sprintf("[%d/%d] ✓ %s", s.Sent, s.Total, s.Message),
		Snapshot: s,
	}
}

func cancelledUpdate(s models.Snapshot, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Cancelled,
		Step:     s.Sent,
		Total:    s.Total,
		Message:  fmt.Sprintf("[%d/%d] ✗ cancelled: %v", s.Sent, s.Total, err),
		Snapshot: s,
		Err:      err,
	}
}

func failedUpdate(s models.Snapshot, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Failed,
		Step:     s.Sent,
		Total:    s.Total,
		Message:  fmt.Sprintf("[%d/%d] ✗ %v", s.Sent, s.Total, err),
		Snapshot: s,
		Err:      err,
	}
}
