package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/booking-wizard/internal/booking"
	"github.com/wolfman30/booking-wizard/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-wizard/internal/http/middleware"
	"github.com/wolfman30/booking-wizard/internal/sessions"
	"github.com/wolfman30/booking-wizard/internal/wizard"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

type emptyLookup struct{}

func (emptyLookup) FetchCandidates(context.Context, wizard.Stage, wizard.Upstream) ([]wizard.Candidate, error) {
	return nil, nil
}

type noopSubmit struct{}

func (noopSubmit) CreateRecord(context.Context, wizard.Payload) (*wizard.Confirmation, error) {
	return &wizard.Confirmation{ID: "x"}, nil
}

func newTestRouter(t *testing.T, secret string, limiter *httpmiddleware.RateLimiter) http.Handler {
	t.Helper()

	logger := logging.Discard()
	graph := booking.NewGraph()
	registry := sessions.NewRegistry(func(id string) *wizard.Session {
		return wizard.NewSession(id, graph, emptyLookup{}, noopSubmit{}, wizard.Options{Logger: logger})
	}, nil, logger)

	return New(&Config{
		Logger:         logger,
		Wizard:         handlers.NewWizardHandler(registry, logger),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		StaffJWTSecret: secret,
		SubmitLimiter:  limiter,
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, "", nil)

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

func TestRouterMetricsIsPublic(t *testing.T) {
	router := newTestRouter(t, "secret", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics without auth, got %d", rr.Code)
	}
}

func TestRouterWizardRequiresStaffToken(t *testing.T) {
	router := newTestRouter(t, "secret", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/wizard/sessions", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "desk-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/wizard/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
}

func TestRouterSubmitIsRateLimited(t *testing.T) {
	router := newTestRouter(t, "", httpmiddleware.NewRateLimiter(0.001, 1))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/wizard/sessions", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: got %d", rr.Code)
	}
	var view handlers.SessionView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	submit := func() int {
		req := httptest.NewRequest(http.MethodPost, "/wizard/sessions/"+view.ID+"/submit", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := submit(); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected incomplete session to be rejected with 422, got %d", code)
	}
	if code := submit(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second submit to be throttled, got %d", code)
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(t, "", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/telnyx/voice", nil))
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 404/405, got %d", rr.Code)
	}
}
