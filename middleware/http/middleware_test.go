package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mihaimyh/rzpsub/pkg/api"
	"github.com/mihaimyh/rzpsub/pkg/api/apitest"
	"github.com/mihaimyh/rzpsub/pkg/billing"
)

func TestMiddleware_AttachesActor(t *testing.T) {
	mw := Middleware(Config{GetActor: FromHeader("X-User-ID", "X-Org-ID")})

	var got *billing.Actor
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = billing.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/test", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	req.Header.Set("X-Org-ID", "org1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if got == nil || got.User.ID != "user1" {
		t.Fatalf("Expected actor user1, got %+v", got)
	}
	if got.Session.ActiveOrganizationID != "org1" {
		t.Errorf("Expected active organization org1, got %q", got.Session.ActiveOrganizationID)
	}
}

func TestMiddleware_MissingAuth(t *testing.T) {
	mw := Middleware(Config{GetActor: FromHeader("X-User-ID", "")})

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/api/test", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "UNAUTHORIZED") {
		t.Errorf("Expected UNAUTHORIZED code, got %s", rec.Body.String())
	}
	if called {
		t.Error("Next handler should not run")
	}
}

func TestMiddleware_Optional(t *testing.T) {
	mw := Middleware(Config{GetActor: FromHeader("X-User-ID", ""), Optional: true})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := billing.ActorFromContext(r.Context()); ok {
			t.Error("Expected no actor")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", http.NoBody))

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rec.Code)
	}
}

func TestMiddleware_CustomUnauthorized(t *testing.T) {
	mw := Middleware(Config{
		GetActor: FromContext(),
		OnUnauthorized: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})

	rec := httptest.NewRecorder()
	mw(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/", http.NoBody))

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}
}

func TestFromContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", http.NoBody)
	ctx := WithOrganizationID(WithUserID(req.Context(), "user9"), "org9")

	actor, err := FromContext()(req.WithContext(ctx))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if actor.User.ID != "user9" || actor.Session.ActiveOrganizationID != "org9" {
		t.Errorf("Unexpected actor %+v", actor)
	}
}

func TestMount(t *testing.T) {
	actions := &apitest.Actions{}
	webhookCalled := false
	h, err := api.NewHandler(api.Config{
		Actions: actions,
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			webhookCalled = true
		}),
	})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	mux := http.NewServeMux()
	Mount(mux, "/api/auth", h, Config{GetActor: FromHeader("X-User-ID", "")})

	// action endpoint requires auth
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/auth/subscription/pause", http.NoBody))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/auth/subscription/pause", strings.NewReader(`{"subscriptionId":"sub_1"}`))
	req.Header.Set("X-User-ID", "user1")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	last := actions.Last()
	if last.Op != "pause" || last.Actor.User.ID != "user1" {
		t.Errorf("Unexpected call %+v", last)
	}

	// webhook is reachable without a session
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/auth/razorpay/webhook", http.NoBody))
	if !webhookCalled {
		t.Error("Expected webhook handler to run")
	}
}
