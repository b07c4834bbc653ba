package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/conversation-relay/pkg/logging"
)

type fakeMessages struct {
	account      string
	conversation string
}

func (f *fakeMessages) Routes(r chi.Router) {
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		f.account = chi.URLParam(r, "accountID")
		f.conversation = chi.URLParam(r, "conversationID")
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/{messageID}/retry", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := New(&Config{Logger: logging.Discard()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterHealthEndpointReportsFailedCheck(t *testing.T) {
	router := New(&Config{HealthCheck: func(context.Context) error { return errors.New("db down") }})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRouterMountsMessageRoutes(t *testing.T) {
	msgs := &fakeMessages{}
	router := New(&Config{Logger: logging.Discard(), Messages: msgs})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acc-1/conversations/conv-9/messages/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if msgs.account != "acc-1" || msgs.conversation != "conv-9" {
		t.Fatalf("unexpected url params %q %q", msgs.account, msgs.conversation)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acc-1/conversations/conv-9/messages/m-1/retry", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for retry, got %d", rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("relay_up 1\n"))
	})
	router := New(&Config{MetricsHandler: metrics})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "relay_up 1\n" {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	New(&Config{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler, got %d", rr.Code)
	}
}

func TestRouterRecoversFromPanics(t *testing.T) {
	router := New(&Config{Logger: logging.Discard(), Messages: panicking{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/a/conversations/c/messages/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rr.Code)
	}
}

type panicking struct{}

func (panicking) Routes(r chi.Router) {
	r.Post("/", func(http.ResponseWriter, *http.Request) { panic("boom") })
}
