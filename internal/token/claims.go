package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
)

// DefaultBuffer is how long before expiry a token counts as expiring soon.
const DefaultBuffer = 300 * time.Second

// Decode reads a JWT's claims without verifying its signature.
func Decode(token string) (*models.Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", shared.ErrMalformedToken, len(parts))
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUndecodableClaims, err)
	}

	var claims models.Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUndecodableClaims, err)
	}
	return &claims, nil
}

// segments decodes JWT segments. Claims are read, never verified, so no keyfunc is ever supplied.
var segments = jwt.NewParser(jwt.WithPaddingAllowed())

// decodeSegment accepts base64url with or without padding, and plain base64 as issued by some clients.
func decodeSegment(seg string) ([]byte, error) {
	if b, err := segments.DecodeSegment(seg); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(seg, "="))
}

// IsExpiredOrExpiringSoon reports whether token expires within buffer of now.
func IsExpiredOrExpiringSoon(token string, buffer time.Duration, now time.Time) (bool, error) {
	claims, err := Decode(token)
	if err != nil {
		return false, err
	}
	return claims.Expiry().Sub(now) < buffer, nil
}

// ExpiresIn returns the time left before token's exp claim.
func ExpiresIn(token string, now time.Time) (time.Duration, error) {
	claims, err := Decode(token)
	if err != nil {
		return 0, err
	}
	return claims.Expiry().Sub(now), nil
}
