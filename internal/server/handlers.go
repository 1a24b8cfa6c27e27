package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/session"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/tasks"
)

// DefaultSessionKey owns campaigns for requests that carry no session.
const DefaultSessionKey = "default"

func sessionKey(r *http.Request) string {
	if id, ok := session.IDFromContext(r.Context()); ok {
		return id
	}
	return DefaultSessionKey
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.tokens.Status(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// setToken stores a manually entered token pair.
func (s *Server) setToken(w http.ResponseWriter, r *http.Request) {
	access, refresh, err := credentialsFromRequest(r)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if access == "" {
		writeError(w, fmt.Errorf("%w: access_token", shared.ErrMissingArgument), nil)
		return
	}
	if _, err := s.tokens.SaveLogin(r.Context(), access, refresh); err != nil {
		writeError(w, err, nil)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if _, err := s.tokens.Refresh(r.Context()); err != nil {
		writeError(w, err, nil)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if _, err := s.tokens.Logout(r.Context()); err != nil {
		writeError(w, err, nil)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	p, err := s.platform.Profile(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) contacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.platform.Contacts(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (s *Server) searchUsers(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, fmt.Errorf("%w: username", shared.ErrMissingArgument), nil)
		return
	}
	users, err := s.platform.SearchUsers(r.Context(), username)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type messageRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, fmt.Errorf("%w: user_id and message are required", shared.ErrMissingArgument), nil)
		return
	}
	if err := s.platform.SendMessage(r.Context(), req.UserID, req.Message); err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// blastRequest is the JSON body of POST /api/blast.
//
// Recipients may be given with names or as bare user_ids; zero values fall back to the configured defaults.
type blastRequest struct {
	Recipients           []models.Recipient `json:"recipients"`
	UserIDs              []string           `json:"user_ids"`
	Message              string             `json:"message"`
	MessagesPerRecipient int                `json:"messages_per_recipient"`
	IntervalSeconds      float64            `json:"interval_seconds"`
}

func (b blastRequest) startRequest(defaults shared.BlastConfig) tasks.StartRequest {
	recipients := append([]models.Recipient(nil), b.Recipients...)
	for _, id := range b.UserIDs {
		recipients = append(recipients, models.Recipient{ID: id})
	}

	perRecipient := b.MessagesPerRecipient
	if perRecipient == 0 {
		perRecipient = defaults.DefaultMessagesPerRecipient
	}
	interval := time.Duration(b.IntervalSeconds * float64(time.Second))
	if b.IntervalSeconds == 0 {
		interval = defaults.Interval()
	}

	return tasks.StartRequest{
		Recipients:           recipients,
		Message:              b.Message,
		MessagesPerRecipient: perRecipient,
		Interval:             interval,
	}
}

func writeCampaign(w http.ResponseWriter, status int, snap models.Snapshot, err error) {
	if err != nil {
		if snap.ID != "" {
			writeError(w, err, &snap)
		} else {
			writeError(w, err, nil)
		}
		return
	}
	writeJSON(w, status, snap)
}

func (s *Server) startBlast(w http.ResponseWriter, r *http.Request) {
	var req blastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	snap, err := s.campaigns.Start(r.Context(), sessionKey(r), req.startRequest(s.cfg.Blast))
	writeCampaign(w, http.StatusCreated, snap, err)
}

func (s *Server) advanceBlast(w http.ResponseWriter, r *http.Request) {
	snap, err := s.campaigns.Advance(r.Context(), sessionKey(r))
	writeCampaign(w, http.StatusOK, snap, err)
}

func (s *Server) blastStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.campaigns.Status(r.Context(), sessionKey(r))
	writeCampaign(w, http.StatusOK, snap, err)
}

func (s *Server) cancelBlast(w http.ResponseWriter, r *http.Request) {
	snap, err := s.campaigns.Cancel(r.Context(), sessionKey(r))
	writeCampaign(w, http.StatusOK, snap, err)
}
