// package services defines the interfaces the core uses to reach the chat platform
package services

import (
	"context"

	"github.com/desertthunder/kcx/internal/models"
)

// TokenProvider supplies bearer tokens to [Client]. [*token.Manager] implements it.
type TokenProvider interface {
	// AccessToken returns the token for the next call, refreshing it first when it is expiring soon.
	AccessToken(ctx context.Context) (string, error)

	// Refresh forces a refresh after the platform rejected the current token.
	Refresh(ctx context.Context) (models.TokenRecord, error)
}

// Messenger delivers one chat message to a user.
type Messenger interface {
	SendMessage(ctx context.Context, userID, text string) error
}

// Directory looks up platform users.
type Directory interface {
	User(ctx context.Context, userID string) (*models.User, error)
}

// Platform is the full set of platform operations used by the HTTP and CLI callers.
type Platform interface {
	Messenger
	Directory

	// Profile returns the authenticated user's profile.
	Profile(ctx context.Context) (*models.Profile, error)

	// Contacts returns the authenticated user's contacts.
	Contacts(ctx context.Context) ([]models.Contact, error)

	// SearchUsers looks a username up, trying common spellings.
	SearchUsers(ctx context.Context, username string) ([]models.User, error)
}
