// KingsChat REST API implementation of [Platform]
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
)

const (
	kingsChatAuthURL  = "https://accounts.kingsch.at/"
	kingsChatTokenURL = "https://connect.kingsch.at/oauth2/token"
)

// KingsChatService implements [Platform] on top of an authenticated [Client].
type KingsChatService struct {
	client *Client
}

var _ Platform = (*KingsChatService)(nil)

// NewKingsChatService creates a service using client for every call.
func NewKingsChatService(client *Client) *KingsChatService {
	return &KingsChatService{client: client}
}

// Profile retrieves the authenticated user's profile.
func (s *KingsChatService) Profile(ctx context.Context) (*models.Profile, error) {
	resp, err := s.client.Get(ctx, "/profile")
	if err != nil {
		return nil, err
	}

	var profile models.Profile
	if err := resp.Decode(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Contacts retrieves the authenticated user's contacts.
func (s *KingsChatService) Contacts(ctx context.Context) ([]models.Contact, error) {
	resp, err := s.client.Get(ctx, "/contacts")
	if err != nil {
		return nil, err
	}

	var list models.ContactList
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return list.Contacts, nil
}

// User retrieves a user by id.
func (s *KingsChatService) User(ctx context.Context, userID string) (*models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id", shared.ErrMissingArgument)
	}

	resp, err := s.client.Get(ctx, "/users/"+url.PathEscape(userID))
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := resp.Decode(&user); err != nil {
		return nil, err
	}
	if user.UserID == "" {
		user.UserID = userID
	}
	return &user, nil
}

// SearchUsers looks username up as typed, without a leading @, and lowercased.
// Unknown spellings are skipped; results are deduplicated by user id.
func (s *KingsChatService) SearchUsers(ctx context.Context, username string) ([]models.User, error) {
	variants := usernameVariants(username)
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: username", shared.ErrMissingArgument)
	}

	seen := map[string]bool{}
	var users []models.User
	for _, v := range variants {
		resp, err := s.client.Get(ctx, "/users?username="+url.QueryEscape(v))
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return users, err
		}

		var user models.User
		if err := resp.Decode(&user); err != nil || user.UserID == "" {
			continue
		}
		if seen[user.UserID] {
			continue
		}
		seen[user.UserID] = true
		users = append(users, user)
	}
	return users, nil
}

func usernameVariants(username string) []string {
	base := strings.TrimSpace(username)
	candidates := []string{base, strings.TrimPrefix(base, "@"), strings.ToLower(strings.TrimPrefix(base, "@"))}

	var out []string
	seen := map[string]bool{}
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

type textBody struct {
	Body string `json:"body"`
}

type messageBody struct {
	Text textBody `json:"text"`
}

type messagePayload struct {
	Message struct {
		Body messageBody `json:"body"`
	} `json:"message"`
}

// NewMessagePayload builds the new_message request body for text.
func NewMessagePayload(text string) json.RawMessage {
	var p messagePayload
	p.Message.Body.Text.Body = text
	data, _ := json.Marshal(p)
	return data
}

// SendMessage sends a text message to userID.
func (s *KingsChatService) SendMessage(ctx context.Context, userID, text string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id", shared.ErrMissingArgument)
	}
	if text == "" {
		return fmt.Errorf("%w: message text", shared.ErrMissingArgument)
	}

	_, err := s.client.Post(ctx, "/users/"+url.PathEscape(userID)+"/new_message", NewMessagePayload(text))
	return err
}

// OAuthConfig builds the authorization code flow configuration.
func OAuthConfig(cfg shared.PlatformConfig) *oauth2.Config {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = kingsChatAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = kingsChatTokenURL
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthURL returns the login page address for the configured flow.
//
// The platform expects scopes as a JSON array and, for the implicit flow,
// posts the tokens back to the redirect uri.
func AuthURL(cfg shared.PlatformConfig, state string) string {
	conf := OAuthConfig(cfg)
	scopes, _ := json.Marshal(cfg.Scopes)

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("scopes", string(scopes))}
	if cfg.Flow == "implicit" {
		opts = append(opts,
			oauth2.SetAuthURLParam("response_type", "token"),
			oauth2.SetAuthURLParam("post_redirect", "true"),
		)
	}

	conf.Scopes = nil
	return conf.AuthCodeURL(state, opts...)
}
