// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/desertthunder/kcx/internal/models"
)

// JWT builds an unsigned three-segment token with the given subject and expiry.
func JWT(sub string, exp time.Time) string {
	return JWTWithClaims(map[string]any{
		"sub": sub,
		"iss": "https://connect.kingsch.at",
		"aud": "kingschat",
		"exp": exp.Unix(),
	})
}

// signingKey signs test tokens. Nothing in kcx verifies signatures.
var signingKey = []byte("kcx-test")

// JWTWithClaims builds an HS256 token carrying arbitrary claims.
func JWTWithClaims(claims map[string]any) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("sign claims: %v", err))
	}
	return signed
}

// NopLogger returns a logger that discards everything.
func NopLogger() *log.Logger {
	return log.New(io.Discard)
}

// MemoryStore is an in-memory token store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	Record  models.TokenRecord
	LoadErr error
	Updates int
}

func (s *MemoryStore) Load(context.Context) (models.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Record, s.LoadErr
}

func (s *MemoryStore) Update(_ context.Context, fn func(*models.TokenRecord) error) (models.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.Record
	if err := fn(&next); err != nil {
		return s.Record, err
	}
	s.Record = next
	s.Updates++
	return next, nil
}

// Snapshot returns the stored record under lock.
func (s *MemoryStore) Snapshot() models.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Record
}

// MockTokenProvider hands out a fixed sequence of tokens and counts refreshes.
type MockTokenProvider struct {
	Token        string
	RefreshToken string
	RefreshErr   error
	refreshes    atomic.Int32
}

func (p *MockTokenProvider) AccessToken(context.Context) (string, error) {
	return p.Token, nil
}

func (p *MockTokenProvider) Refresh(context.Context) (models.TokenRecord, error) {
	p.refreshes.Add(1)
	if p.RefreshErr != nil {
		return models.TokenRecord{}, p.RefreshErr
	}
	if p.RefreshToken != "" {
		p.Token = p.RefreshToken
	}
	return models.TokenRecord{AccessToken: p.Token}, nil
}

// Refreshes returns how many times Refresh was called.
func (p *MockTokenProvider) Refreshes() int { return int(p.refreshes.Load()) }

// CountingHandler wraps h and counts requests.
type CountingHandler struct {
	Handler http.Handler
	count   atomic.Int32
}

func (c *CountingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.count.Add(1)
	c.Handler.ServeHTTP(w, r)
}

// Count returns the number of requests served.
func (c *CountingHandler) Count() int { return int(c.count.Load()) }

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

var _ io.ReadCloser = (*FCloser)(nil)

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
