package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
)

// DefaultExpiresInMillis is the lifetime assumed when a refresh response carries no expiry.
const DefaultExpiresInMillis = 3_600_000

// RefreshTimeout bounds a shared exchange when the client sets no timeout of its own.
const RefreshTimeout = 30 * time.Second

// RefreshError describes a failed refresh exchange. The raw response body is kept for diagnostics.
type RefreshError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RefreshError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("%v: %v", shared.ErrRefreshFailed, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: status %d: %v: %s", shared.ErrRefreshFailed, e.StatusCode, e.Err, e.Body)
	default:
		return fmt.Sprintf("%v: status %d: %s", shared.ErrRefreshFailed, e.StatusCode, e.Body)
	}
}

func (e *RefreshError) Unwrap() []error {
	if e.Err != nil {
		return []error{shared.ErrRefreshFailed, e.Err}
	}
	return []error{shared.ErrRefreshFailed}
}

// Refresher exchanges a refresh token for a new access token at the platform's token endpoint.
//
// Concurrent calls for the same refresh token share one in-flight request.
type Refresher struct {
	client   *http.Client
	tokenURL string
	clientID string
	logger   *log.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewRefresher creates a [Refresher]. A nil client gets a [RefreshTimeout] timeout.
func NewRefresher(tokenURL, clientID string, client *http.Client, logger *log.Logger) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: RefreshTimeout}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Refresher{
		client:   client,
		tokenURL: tokenURL,
		clientID: clientID,
		logger:   shared.WithLogger(logger, "component", "refresher"),
		now:      time.Now,
	}
}

type refreshResponse struct {
	AccessToken     string       `json:"access_token"`
	RefreshToken    string       `json:"refresh_token"`
	ExpiresInMillis *json.Number `json:"expires_in_millis"`
	ExpiresIn       *json.Number `json:"expires_in"`
}

// expiresInSeconds floor-divides the platform's millisecond lifetime, falling back to expires_in seconds.
func (r refreshResponse) expiresInSeconds() int64 {
	if r.ExpiresInMillis != nil {
		if ms, ok := numberValue(*r.ExpiresInMillis); ok {
			return ms / 1000
		}
	}
	if r.ExpiresIn != nil {
		if s, ok := numberValue(*r.ExpiresIn); ok {
			return s
		}
	}
	return DefaultExpiresInMillis / 1000
}

func numberValue(n json.Number) (int64, bool) {
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// Refresh performs the exchange. The returned record's RefreshToken is empty unless the endpoint rotated it,
// and SubjectUserID is empty unless the new access token carries a sub claim.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (models.TokenRecord, error) {
	if refreshToken == "" {
		return models.TokenRecord{}, &RefreshError{Err: shared.ErrNoRefreshToken}
	}

	// The exchange outlives any one caller: a cancelled caller returns early without failing the others.
	ch := r.group.DoChan(refreshToken, func() (any, error) {
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout())
		defer cancel()
		return r.exchange(detached, refreshToken)
	})

	select {
	case <-ctx.Done():
		return models.TokenRecord{}, &RefreshError{Err: ctx.Err()}
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("refresh coalesced with in-flight request")
		}
		if res.Err != nil {
			return models.TokenRecord{}, res.Err
		}
		return res.Val.(models.TokenRecord), nil
	}
}

func (r *Refresher) timeout() time.Duration {
	if r.client.Timeout > 0 {
		return r.client.Timeout
	}
	return RefreshTimeout
}

func (r *Refresher) exchange(ctx context.Context, refreshToken string) (models.TokenRecord, error) {
	form := url.Values{}
	form.Set("client_id", r.clientID)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.TokenRecord{}, &RefreshError{Err: fmt.Errorf("build refresh request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := r.now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("refresh request failed", "error", err)
		return models.TokenRecord{}, &RefreshError{Err: fmt.Errorf("refresh request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.TokenRecord{}, &RefreshError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read refresh response: %w", err)}
	}

	r.logger.Info("refresh response", "status", resp.StatusCode, "duration", r.now().Sub(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.TokenRecord{}, &RefreshError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return models.TokenRecord{}, &RefreshError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("decode refresh response: %w", err),
		}
	}
	if parsed.AccessToken == "" {
		return models.TokenRecord{}, &RefreshError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("response has no access_token"),
		}
	}

	record := models.TokenRecord{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    r.now().Unix() + parsed.expiresInSeconds(),
	}
	if claims, err := Decode(parsed.AccessToken); err == nil {
		record.SubjectUserID = claims.Subject
	}
	return record, nil
}
