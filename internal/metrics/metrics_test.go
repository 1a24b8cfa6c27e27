package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	TokenRefreshes.WithLabelValues("ok").Inc()
	MessagesSent.WithLabelValues("error").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"kcx_token_refreshes_total", "kcx_blast_messages_total", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected exposition to contain %s", want)
		}
	}
}

func TestResult(t *testing.T) {
	if Result(nil) != "ok" {
		t.Error("nil error should be ok")
	}
	if Result(errors.New("x")) != "error" {
		t.Error("non-nil error should be error")
	}
}
