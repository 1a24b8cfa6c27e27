package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Token errors
	ErrMalformedToken    = fmt.Errorf("malformed token")
	ErrUndecodableClaims = fmt.Errorf("undecodable token claims")
	ErrRefreshFailed     = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken    = fmt.Errorf("no refresh token available")
	ErrStoreConflict     = fmt.Errorf("token store update conflict")

	// Authentication errors
	ErrAuthenticationFailed = fmt.Errorf("session expired, please log in again")
	ErrNotAuthenticated     = fmt.Errorf("not authenticated")
	ErrInvalidState         = fmt.Errorf("invalid oauth state")
	ErrTimeout              = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest = fmt.Errorf("API request failed")

	// Campaign errors
	ErrNoActiveCampaign = fmt.Errorf("no active campaign")
	ErrCampaignActive   = fmt.Errorf("a campaign is already running")
	ErrCampaignConflict = fmt.Errorf("campaign was modified concurrently")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
