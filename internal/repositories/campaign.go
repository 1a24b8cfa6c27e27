package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
)

// CampaignRepository persists bulk dispatch campaigns, one per session.
type CampaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new [CampaignRepository] with the given database connection
func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, session_key, sequence, recipients, message, messages_per_recipient, interval_millis,
	sent_count, total_count, next_send_at, is_complete, auth_failures, last_error, created_at, updated_at`

// Get returns the session's campaign or [shared.ErrNoActiveCampaign].
func (r *CampaignRepository) Get(ctx context.Context, sessionKey string) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE session_key = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, sessionKey))
}

// Create stores c as the session's campaign, replacing a completed one.
//
// A running campaign for the same session is left untouched and [shared.ErrCampaignActive] returned.
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	sequence, err := NextSequence(ctx, r.db, "campaigns")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}
	c.Sequence = sequence

	recipients, err := json.Marshal(c.Recipients)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var complete bool
	err = tx.QueryRowContext(ctx, `SELECT is_complete FROM campaigns WHERE session_key = ?`, c.SessionKey).Scan(&complete)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to check existing campaign: %w", err)
	case !complete:
		return shared.ErrCampaignActive
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE session_key = ?`, c.SessionKey); err != nil {
			return fmt.Errorf("failed to replace completed campaign: %w", err)
		}
	}

	query := `INSERT INTO campaigns (` + campaignColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		c.ID, c.SessionKey, c.Sequence, string(recipients), c.Message, c.MessagesPerRecipient, c.Interval.Milliseconds(),
		c.SentCount, c.TotalCount, unixMillis(c.NextSendAt), c.IsComplete, c.AuthFailures, c.LastError,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	return tx.Commit()
}

// Save writes c's progress only if the stored sent_count still equals expectedSent.
//
// A lost race reports [shared.ErrCampaignConflict]; a vanished row [shared.ErrNoActiveCampaign].
func (r *CampaignRepository) Save(ctx context.Context, c *models.Campaign, expectedSent int) error {
	query := `
		UPDATE campaigns
		SET sent_count = ?, next_send_at = ?, is_complete = ?, auth_failures = ?, last_error = ?, updated_at = ?,
			claimed_until = 0
		WHERE id = ? AND sent_count = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		c.SentCount, unixMillis(c.NextSendAt), c.IsComplete, c.AuthFailures, c.LastError, c.UpdatedAt,
		c.ID, expectedSent,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}
	return r.missingOrConflict(ctx, c.ID)
}

// Claim reserves c's next slot until until, provided the stored row is still at c's sent count, due at now
// and not claimed by another driver. Save releases the claim.
//
// Another driver holding the slot reports [shared.ErrCampaignConflict].
func (r *CampaignRepository) Claim(ctx context.Context, c *models.Campaign, now, until time.Time) error {
	query := `
		UPDATE campaigns
		SET claimed_until = ?
		WHERE id = ? AND sent_count = ? AND is_complete = 0 AND next_send_at <= ? AND claimed_until <= ?
	`

	nowMillis := now.UnixMilli()
	result, err := r.db.ExecContext(ctx, query, until.UnixMilli(), c.ID, c.SentCount, nowMillis, nowMillis)
	if err != nil {
		return fmt.Errorf("failed to claim campaign slot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}
	return r.missingOrConflict(ctx, c.ID)
}

func (r *CampaignRepository) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check campaign: %w", err)
	}
	if !exists {
		return shared.ErrNoActiveCampaign
	}
	return shared.ErrCampaignConflict
}

// Delete discards the session's campaign, returning [shared.ErrNoActiveCampaign] when there is none.
func (r *CampaignRepository) Delete(ctx context.Context, sessionKey string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE session_key = ?`, sessionKey)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return shared.ErrNoActiveCampaign
	}
	return nil
}

// LogSend appends a delivered message to the campaign_sends audit table.
func (r *CampaignRepository) LogSend(ctx context.Context, campaignID, recipientID string, messageNumber int) error {
	query := `INSERT INTO campaign_sends (campaign_id, recipient_id, message_number, sent_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, campaignID, recipientID, messageNumber, time.Now()); err != nil {
		return fmt.Errorf("failed to log send: %w", err)
	}
	return nil
}

// SendCount returns how many sends were logged for a campaign.
func (r *CampaignRepository) SendCount(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_sends WHERE campaign_id = ?`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sends: %w", err)
	}
	return n, nil
}

func (r *CampaignRepository) scan(row *sql.Row) (*models.Campaign, error) {
	var (
		c              models.Campaign
		recipients     string
		intervalMillis int64
		nextSendAt     int64
	)

	err := row.Scan(
		&c.ID, &c.SessionKey, &c.Sequence, &recipients, &c.Message, &c.MessagesPerRecipient, &intervalMillis,
		&c.SentCount, &c.TotalCount, &nextSendAt, &c.IsComplete, &c.AuthFailures, &c.LastError,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrNoActiveCampaign
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign: %w", err)
	}

	if err := json.Unmarshal([]byte(recipients), &c.Recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	c.Interval = time.Duration(intervalMillis) * time.Millisecond
	c.NextSendAt = fromUnixMillis(nextSendAt)

	return &c, nil
}
