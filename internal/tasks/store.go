package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
)

// MemoryStore is a process-local [CampaignStore] with the same compare-and-increment rules as the
// SQLite repository.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]*models.Campaign
	sends     map[string][]int
	claims    map[string]time.Time // by campaign id
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[string]*models.Campaign),
		sends:     make(map[string][]int),
		claims:    make(map[string]time.Time),
	}
}

func clone(c *models.Campaign) *models.Campaign {
	out := *c
	out.Recipients = append([]models.Recipient(nil), c.Recipients...)
	return &out
}

func (s *MemoryStore) Get(_ context.Context, sessionKey string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[sessionKey]
	if !ok {
		return nil, shared.ErrNoActiveCampaign
	}
	return clone(c), nil
}

func (s *MemoryStore) Create(_ context.Context, c *models.Campaign) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.campaigns[c.SessionKey]; ok && !existing.IsComplete {
		return shared.ErrCampaignActive
	}
	s.campaigns[c.SessionKey] = clone(c)
	return nil
}

func (s *MemoryStore) Save(_ context.Context, c *models.Campaign, expectedSent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.campaigns[c.SessionKey]
	if !ok || stored.ID != c.ID {
		return shared.ErrNoActiveCampaign
	}
	if stored.SentCount != expectedSent {
		return shared.ErrCampaignConflict
	}
	s.campaigns[c.SessionKey] = clone(c)
	delete(s.claims, c.ID)
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, c *models.Campaign, now, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.campaigns[c.SessionKey]
	if !ok || stored.ID != c.ID {
		return shared.ErrNoActiveCampaign
	}
	if stored.SentCount != c.SentCount || stored.IsComplete || !stored.Due(now) || now.Before(s.claims[c.ID]) {
		return shared.ErrCampaignConflict
	}
	s.claims[c.ID] = until
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[sessionKey]
	if !ok {
		return shared.ErrNoActiveCampaign
	}
	delete(s.claims, c.ID)
	delete(s.campaigns, sessionKey)
	return nil
}

func (s *MemoryStore) LogSend(_ context.Context, campaignID, _ string, messageNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends[campaignID] = append(s.sends[campaignID], messageNumber)
	return nil
}

// Sends returns the logged message numbers for a campaign in send order.
func (s *MemoryStore) Sends(campaignID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.sends[campaignID]...)
}
