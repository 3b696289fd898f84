// Package echo provides Echo middleware that attaches the billing actor to
// the request and mounts the subscription endpoints.
package echo

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/rzpsub/pkg/api"
	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// ActorKey is the echo context key holding the *billing.Actor.
const ActorKey = "rzpsub:actor"

// ActorExtractor resolves the authenticated caller from an Echo context.
// Return a nil actor if the user is not authenticated.
type ActorExtractor func(c echo.Context) (*billing.Actor, error)

// Config holds middleware configuration
type Config struct {
	// GetActor resolves the caller from the host's session (required)
	GetActor ActorExtractor

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 {"code","message"}
	OnUnauthorized func(c echo.Context) error
}

// Router is satisfied by *echo.Echo and *echo.Group.
type Router interface {
	Add(method, path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) *echo.Route
}

// Middleware creates an Echo middleware that stores the caller on the request
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.GetActor == nil {
		panic("rzpsub/echo: Config.GetActor is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := cfg.GetActor(c)
			if err != nil || actor == nil {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}
			c.Set(ActorKey, actor)
			c.SetRequest(c.Request().WithContext(billing.WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// Register mounts the subscription endpoints on r. The action endpoints run
// behind the middleware; the webhook authenticates by signature and does not.
func Register(r Router, h *api.Handler, cfg Config) {
	mw := Middleware(cfg)
	for _, rt := range h.Routes("") {
		handler := echo.WrapHandler(rt.Handler)
		if strings.HasSuffix(rt.Path, api.WebhookPath) {
			r.Add(rt.Method, rt.Path, handler)
			continue
		}
		r.Add(rt.Method, rt.Path, handler, mw)
	}
}

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, api.ErrorResponse{
		Code:    billing.ErrUnauthorized.Code,
		Message: billing.ErrUnauthorized.Message,
	})
}

// Convenience extractors

// FromContext returns an ActorExtractor reading a user id an auth middleware
// stored via c.Set(userKey, "...") and an optional organization id.
func FromContext(userKey, organizationKey string) ActorExtractor {
	return func(c echo.Context) (*billing.Actor, error) {
		userID, _ := c.Get(userKey).(string)
		if userID == "" {
			return nil, nil
		}
		var orgID string
		if organizationKey != "" {
			orgID, _ = c.Get(organizationKey).(string)
		}
		return newActor(userID, orgID), nil
	}
}

// FromHeader returns an ActorExtractor trusting identity headers set by an
// authenticating proxy.
func FromHeader(userHeader, organizationHeader string) ActorExtractor {
	return func(c echo.Context) (*billing.Actor, error) {
		userID := c.Request().Header.Get(userHeader)
		if userID == "" {
			return nil, nil
		}
		var orgID string
		if organizationHeader != "" {
			orgID = c.Request().Header.Get(organizationHeader)
		}
		return newActor(userID, orgID), nil
	}
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(c echo.Context) (*billing.Actor, bool) {
	a, ok := c.Get(ActorKey).(*billing.Actor)
	return a, ok
}

func newActor(userID, orgID string) *billing.Actor {
	return &billing.Actor{
		User:    billing.User{ID: userID, EmailVerified: true},
		Session: billing.Session{UserID: userID, ActiveOrganizationID: orgID},
	}
}
