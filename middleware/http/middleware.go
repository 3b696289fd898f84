// Package http provides net/http middleware that attaches the billing actor
// to the request context and mounts the subscription endpoints.
package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/mihaimyh/rzpsub/pkg/api"
	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// ActorExtractor resolves the authenticated caller from a request.
// Return a nil actor if the user is not authenticated.
type ActorExtractor func(r *http.Request) (*billing.Actor, error)

// Config holds middleware configuration
type Config struct {
	// GetActor resolves the caller from the host's session (required)
	GetActor ActorExtractor

	// Optional lets unauthenticated requests through without an actor.
	// The subscription endpoints still reject them.
	Optional bool

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 with {"code","message"}
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that stores the caller in the request context
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetActor == nil {
		panic("rzpsub/http: Config.GetActor is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := config.GetActor(r)
			if err != nil || actor == nil {
				if config.Optional {
					next.ServeHTTP(w, r)
					return
				}
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					defaultUnauthorized(w)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(billing.WithActor(r.Context(), actor)))
		})
	}
}

// HandlerFunc creates the middleware in HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// Mount registers the subscription endpoints on mux under prefix. The
// action endpoints run behind the middleware; the webhook does not, since
// it authenticates by signature.
func Mount(mux *http.ServeMux, prefix string, h *api.Handler, config Config) {
	mw := Middleware(config)
	for _, rt := range h.Routes(prefix) {
		var handler http.Handler = rt.Handler
		if !isWebhook(prefix, rt) {
			handler = mw(handler)
		}
		mux.Handle(rt.Method+" "+rt.Path, handler)
	}
}

func isWebhook(prefix string, rt api.Route) bool {
	return rt.Path == strings.TrimSuffix(prefix, "/")+api.WebhookPath
}

func defaultUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"unauthorized"}`))
}

// Common extractors for convenience

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user id
	UserIDKey ContextKey = "rzpsub:userID"
	// OrganizationIDKey is the context key for the active organization id
	OrganizationIDKey ContextKey = "rzpsub:organizationID"
)

// FromContext returns an ActorExtractor reading ids an upstream auth
// middleware stored with WithUserID and WithOrganizationID.
func FromContext() ActorExtractor {
	return func(r *http.Request) (*billing.Actor, error) {
		userID, _ := r.Context().Value(UserIDKey).(string)
		if userID == "" {
			return nil, nil
		}
		orgID, _ := r.Context().Value(OrganizationIDKey).(string)
		return NewActor(userID, orgID), nil
	}
}

// FromHeader returns an ActorExtractor trusting identity headers set by an
// authenticating proxy.
func FromHeader(userHeader, organizationHeader string) ActorExtractor {
	return ActorExtractor(api.FromHeader(userHeader, organizationHeader))
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithOrganizationID adds the active organization ID to request context
func WithOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, organizationID)
}

// NewActor builds a verified actor from bare ids.
func NewActor(userID, organizationID string) *billing.Actor {
	return &billing.Actor{
		User:    billing.User{ID: userID, EmailVerified: true},
		Session: billing.Session{UserID: userID, ActiveOrganizationID: organizationID},
	}
}
