// Package gin provides Gin middleware that attaches the billing actor to the
// request and mounts the subscription endpoints.
package gin

import (
	"net/http"
	"strings"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/rzpsub/pkg/api"
	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// ActorKey is the gin context key holding the *billing.Actor.
const ActorKey = "rzpsub:actor"

// ActorExtractor resolves the authenticated caller from a Gin context.
// Return a nil actor if the user is not authenticated.
type ActorExtractor func(c *gongin.Context) (*billing.Actor, error)

// Config holds middleware configuration
type Config struct {
	// GetActor resolves the caller from the host's session (required)
	GetActor ActorExtractor

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, aborts with 401 {"code","message"}
	OnUnauthorized func(c *gongin.Context)
}

// Middleware creates a Gin middleware that stores the caller on the request
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.GetActor == nil {
		panic("rzpsub/gin: Config.GetActor is required")
	}

	return func(c *gongin.Context) {
		actor, err := cfg.GetActor(c)
		if err != nil || actor == nil {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
				return
			}
			defaultUnauthorized(c)
			return
		}
		c.Set(ActorKey, actor)
		c.Request = c.Request.WithContext(billing.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// Register mounts the subscription endpoints on r. The action endpoints run
// behind the middleware; the webhook authenticates by signature and does not.
func Register(r gongin.IRouter, h *api.Handler, cfg Config) {
	mw := Middleware(cfg)
	for _, rt := range h.Routes("") {
		if strings.HasSuffix(rt.Path, api.WebhookPath) {
			r.Handle(rt.Method, rt.Path, gongin.WrapF(rt.Handler))
			continue
		}
		r.Handle(rt.Method, rt.Path, mw, gongin.WrapF(rt.Handler))
	}
}

func defaultUnauthorized(c *gongin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{
		Code:    billing.ErrUnauthorized.Code,
		Message: billing.ErrUnauthorized.Message,
	})
}

// Convenience extractors

// FromContext returns an ActorExtractor reading a user id an auth middleware
// stored via c.Set(userKey, "...") and an optional organization id.
//
// Example:
//
//	// In your auth middleware:
//	c.Set("UserID", userID)
//
//	// In billing middleware config:
//	GetActor: gin.FromContext("UserID", "OrgID")
func FromContext(userKey, organizationKey string) ActorExtractor {
	return func(c *gongin.Context) (*billing.Actor, error) {
		userID := c.GetString(userKey)
		if userID == "" {
			return nil, nil
		}
		var orgID string
		if organizationKey != "" {
			orgID = c.GetString(organizationKey)
		}
		return newActor(userID, orgID), nil
	}
}

// FromHeader returns an ActorExtractor trusting identity headers set by an
// authenticating proxy.
func FromHeader(userHeader, organizationHeader string) ActorExtractor {
	return func(c *gongin.Context) (*billing.Actor, error) {
		userID := c.GetHeader(userHeader)
		if userID == "" {
			return nil, nil
		}
		var orgID string
		if organizationHeader != "" {
			orgID = c.GetHeader(organizationHeader)
		}
		return newActor(userID, orgID), nil
	}
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(c *gongin.Context) (*billing.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return nil, false
	}
	a, ok := v.(*billing.Actor)
	return a, ok
}

func newActor(userID, orgID string) *billing.Actor {
	return &billing.Actor{
		User:    billing.User{ID: userID, EmailVerified: true},
		Session: billing.Session{UserID: userID, ActiveOrganizationID: orgID},
	}
}
