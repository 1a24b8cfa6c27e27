package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/services"
	"github.com/desertthunder/kcx/internal/shared"
)

type errorResponse struct {
	Error    string           `json:"error"`
	Status   int              `json:"upstream_status,omitempty"`
	Campaign *models.Snapshot `json:"campaign,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var apiErr *services.APIError
	switch {
	case errors.Is(err, shared.ErrAuthenticationFailed),
		errors.Is(err, shared.ErrNotAuthenticated),
		errors.Is(err, shared.ErrMalformedToken),
		errors.Is(err, shared.ErrUndecodableClaims),
		errors.Is(err, shared.ErrNoRefreshToken),
		errors.Is(err, shared.ErrRefreshFailed):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNoActiveCampaign):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrCampaignActive),
		errors.Is(err, shared.ErrCampaignConflict):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": ...}. Forced re-login always uses the same message.
func writeError(w http.ResponseWriter, err error, snap *models.Snapshot) {
	resp := errorResponse{Error: err.Error(), Campaign: snap}
	if errors.Is(err, shared.ErrAuthenticationFailed) {
		resp.Error = shared.ErrAuthenticationFailed.Error()
	}

	var apiErr *services.APIError
	if errors.As(err, &apiErr) {
		resp.Status = apiErr.StatusCode
	}
	writeJSON(w, statusFor(err), resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", shared.ErrInvalidInput, err)
	}
	return nil
}
