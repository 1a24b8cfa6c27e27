// package tasks implements bulk dispatch campaigns on top of the platform messenger.
//
// The core abstraction is Dispatcher, which owns the campaign state machine. It never sleeps or holds
// timers: callers pace a campaign by invoking Advance repeatedly, either through a [Driver] or a UI.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kcx/internal/metrics"
	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/services"
	"github.com/desertthunder/kcx/internal/shared"
)

// MaxAuthFailures is the number of consecutive authentication failures that cancel a campaign.
const MaxAuthFailures = 2

// SendLease bounds how long a claimed slot stays reserved when its driver dies before saving.
const SendLease = time.Minute

// CampaignStore persists one campaign per session.
//
// Claim must atomically reserve the due slot at c's sent count, so that only one driver in any
// process calls the platform for it. Save must apply compare-and-increment on the sent count,
// release the claim and report [shared.ErrCampaignConflict] when expectedSent no longer matches.
// [repositories.CampaignRepository] and [MemoryStore] implement it.
type CampaignStore interface {
	Get(ctx context.Context, sessionKey string) (*models.Campaign, error)
	Create(ctx context.Context, c *models.Campaign) error
	Claim(ctx context.Context, c *models.Campaign, now, until time.Time) error
	Save(ctx context.Context, c *models.Campaign, expectedSent int) error
	Delete(ctx context.Context, sessionKey string) error
	LogSend(ctx context.Context, campaignID, recipientID string, messageNumber int) error
}

// Campaigns is the set of operations exposed to HTTP, CLI and TUI callers.
type Campaigns interface {
	Start(ctx context.Context, sessionKey string, req StartRequest) (models.Snapshot, error)
	Advance(ctx context.Context, sessionKey string) (models.Snapshot, error)
	Status(ctx context.Context, sessionKey string) (models.Snapshot, error)
	Cancel(ctx context.Context, sessionKey string) (models.Snapshot, error)
}

// StartRequest describes a new campaign.
type StartRequest struct {
	Recipients           []models.Recipient `json:"recipients"`
	Message              string             `json:"message"`
	MessagesPerRecipient int                `json:"messages_per_recipient"`
	Interval             time.Duration      `json:"-"`
}

// Validate checks the request before any platform call is made.
func (r StartRequest) Validate() error {
	if len(r.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Reason: "at least one recipient is required"}
	}
	for i, rc := range r.Recipients {
		if strings.TrimSpace(rc.ID) == "" {
			return &ValidationError{Field: "recipients", Reason: fmt.Sprintf("recipient %d has no id", i)}
		}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message", Reason: "message is required"}
	}
	if r.MessagesPerRecipient < 1 {
		return &ValidationError{Field: "messages_per_recipient", Reason: "must be at least 1"}
	}
	if r.Interval < models.MinInterval {
		return &ValidationError{Field: "interval", Reason: fmt.Sprintf("must be at least %v", models.MinInterval)}
	}
	return nil
}

// ValidationError reports a rejected [StartRequest] field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s %s", shared.ErrInvalidInput, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return shared.ErrInvalidInput }

// DispatcherOpts configures a [Dispatcher].
type DispatcherOpts struct {
	Store     CampaignStore
	Messenger services.Messenger
	Directory services.Directory // optional, resolves missing display names
	Logger    *log.Logger
	Now       func() time.Time
	NewID     func() string
}

// Dispatcher runs campaigns. Operations on the same session are serialized.
type Dispatcher struct {
	store     CampaignStore
	messenger services.Messenger
	directory services.Directory
	logger    *log.Logger
	now       func() time.Time
	newID     func() string

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewDispatcher creates a [Dispatcher].
func NewDispatcher(opts DispatcherOpts) *Dispatcher {
	d := &Dispatcher{
		store:     opts.Store,
		messenger: opts.Messenger,
		directory: opts.Directory,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		locks:     make(map[string]*sessionLock),
	}
	if d.logger == nil {
		d.logger = shared.NewLogger(nil)
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = shared.GenerateID
	}
	return d
}

// lock acquires the session's mutex and returns its release func.
func (d *Dispatcher) lock(sessionKey string) func() {
	d.mu.Lock()
	l, ok := d.locks[sessionKey]
	if !ok {
		l = &sessionLock{}
		d.locks[sessionKey] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, sessionKey)
		}
		d.mu.Unlock()
	}
}

// Start validates req, sends the first message synchronously and persists the campaign.
//
// Nothing is stored when the first send fails. A running campaign for the session is reported with
// [shared.ErrCampaignActive]; a completed one is replaced.
func (d *Dispatcher) Start(ctx context.Context, sessionKey string, req StartRequest) (models.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return models.Snapshot{}, err
	}

	unlock := d.lock(sessionKey)
	defer unlock()

	existing, err := d.store.Get(ctx, sessionKey)
	switch {
	case err == nil && !existing.IsComplete:
		return existing.Snapshot(d.now()), shared.ErrCampaignActive
	case err != nil && !errors.Is(err, shared.ErrNoActiveCampaign):
		return models.Snapshot{}, err
	}

	recipients := d.resolveNames(ctx, req.Recipients)
	c := models.NewCampaign(d.newID(), sessionKey, recipients, req.Message, req.MessagesPerRecipient, req.Interval, d.now())
	logger := shared.WithLogger(d.logger, "campaign", c.ID)

	first := c.NextRecipient()
	if err := d.send(ctx, c, first); err != nil {
		logger.Warn("first send failed", "recipient", first.ID, "error", err)
		return models.Snapshot{}, err
	}
	c.RecordSend(d.now())

	if err := d.store.Create(ctx, c); err != nil {
		logger.Error("failed to store campaign after first send", "error", err)
		return models.Snapshot{}, err
	}
	d.logSend(ctx, c, first, 1)

	logger.Info("campaign started", "recipients", len(c.Recipients), "total", c.TotalCount)
	return c.Snapshot(d.now()), nil
}

// Advance sends the next message when it is due.
//
// Before NextSendAt it returns the current snapshot without calling the platform. A failed send leaves
// progress unchanged and is returned alongside the snapshot.
func (d *Dispatcher) Advance(ctx context.Context, sessionKey string) (models.Snapshot, error) {
	unlock := d.lock(sessionKey)
	defer unlock()

	c, err := d.store.Get(ctx, sessionKey)
	if err != nil {
		return models.Snapshot{}, err
	}
	if c.IsComplete {
		return c.Snapshot(d.now()), shared.ErrNoActiveCampaign
	}
	now := d.now()
	if !c.Due(now) {
		return c.Snapshot(now), nil
	}

	logger := shared.WithLogger(d.logger, "campaign", c.ID)
	if err := d.store.Claim(ctx, c, now, now.Add(SendLease)); err != nil {
		if !errors.Is(err, shared.ErrCampaignConflict) {
			return c.Snapshot(now), err
		}
		// Another driver owns this slot. Report its progress instead of sending.
		logger.Debug("slot claimed by another driver", "sent", c.SentCount)
		if fresh, gerr := d.store.Get(ctx, sessionKey); gerr == nil {
			c = fresh
		}
		return c.Snapshot(now), nil
	}

	recipient := c.NextRecipient()
	_, number := c.Next()
	expected := c.SentCount

	if err := d.send(ctx, c, recipient); err != nil {
		auth := errors.Is(err, shared.ErrAuthenticationFailed)
		c.RecordFailure(err, auth, d.now())

		if auth && c.AuthFailures >= MaxAuthFailures {
			logger.Warn("cancelling campaign after repeated authentication failures", "sent", c.SentCount)
			if derr := d.store.Delete(ctx, sessionKey); derr != nil && !errors.Is(derr, shared.ErrNoActiveCampaign) {
				logger.Error("failed to discard campaign", "error", derr)
			}
			return c.Cancelled(d.now()), err
		}

		if serr := d.store.Save(ctx, c, expected); serr != nil {
			logger.Warn("failed to record send failure", "error", serr)
		}
		logger.Warn("send failed", "recipient", recipient.ID, "message", number, "error", err)
		return c.Snapshot(d.now()), err
	}

	c.RecordSend(d.now())
	if err := d.store.Save(ctx, c, expected); err != nil {
		logger.Error("failed to save campaign progress", "sent", c.SentCount, "error", err)
		return c.Snapshot(d.now()), err
	}
	d.logSend(ctx, c, recipient, number)

	if c.IsComplete {
		logger.Info("campaign completed", "total", c.TotalCount)
	} else {
		logger.Debug("message sent", "recipient", recipient.ID, "message", number, "sent", c.SentCount)
	}
	return c.Snapshot(d.now()), nil
}

// Status reports the session's campaign without changing it.
func (d *Dispatcher) Status(ctx context.Context, sessionKey string) (models.Snapshot, error) {
	c, err := d.store.Get(ctx, sessionKey)
	if err != nil {
		return models.Snapshot{}, err
	}
	return c.Snapshot(d.now()), nil
}

// Cancel discards the session's campaign and reports how far it got.
//
// It waits for an in-flight Advance on the same session to finish.
func (d *Dispatcher) Cancel(ctx context.Context, sessionKey string) (models.Snapshot, error) {
	unlock := d.lock(sessionKey)
	defer unlock()

	c, err := d.store.Get(ctx, sessionKey)
	if err != nil {
		return models.Snapshot{}, err
	}
	if err := d.store.Delete(ctx, sessionKey); err != nil {
		return models.Snapshot{}, err
	}

	d.logger.Info("campaign cancelled", "campaign", c.ID, "sent", c.SentCount, "total", c.TotalCount)
	return c.Cancelled(d.now()), nil
}

func (d *Dispatcher) send(ctx context.Context, c *models.Campaign, r models.Recipient) error {
	err := d.messenger.SendMessage(ctx, r.ID, c.Render(r))
	metrics.MessagesSent.WithLabelValues(metrics.Result(err)).Inc()
	return err
}

// logSend records delivery in the audit log. Failures are logged and ignored.
func (d *Dispatcher) logSend(ctx context.Context, c *models.Campaign, r models.Recipient, number int) {
	if err := d.store.LogSend(ctx, c.ID, r.ID, number); err != nil {
		d.logger.Warn("failed to log send", "campaign", c.ID, "error", err)
	}
}

// resolveNames fills missing display names from the directory, leaving them empty on lookup failure.
func (d *Dispatcher) resolveNames(ctx context.Context, recipients []models.Recipient) []models.Recipient {
	out := make([]models.Recipient, len(recipients))
	for i, r := range recipients {
		r.ID = strings.TrimSpace(r.ID)
		out[i] = r
		if d.directory == nil || strings.TrimSpace(r.Name) != "" {
			continue
		}

		u, err := d.directory.User(ctx, r.ID)
		if err != nil {
			d.logger.Debug("could not resolve recipient name", "recipient", r.ID, "error", err)
			continue
		}
		out[i].Name = u.Name
	}
	return out
}
