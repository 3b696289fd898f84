// Package fiber provides Fiber middleware that attaches the billing actor to
// the request and mounts the subscription endpoints.
package fiber

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mihaimyh/rzpsub/pkg/api"
	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// ActorKey is the Locals key holding the *billing.Actor.
const ActorKey = "rzpsub:actor"

// ActorExtractor resolves the authenticated caller from a Fiber context.
// Return a nil actor if the user is not authenticated.
type ActorExtractor func(c *fiber.Ctx) (*billing.Actor, error)

// Config holds middleware configuration
type Config struct {
	// GetActor resolves the caller from the host's session (required)
	GetActor ActorExtractor

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 {"code","message"}
	OnUnauthorized func(c *fiber.Ctx) error
}

// Middleware creates a Fiber middleware that stores the caller in Locals
func Middleware(cfg Config) fiber.Handler {
	if cfg.GetActor == nil {
		panic("rzpsub/fiber: Config.GetActor is required")
	}

	return func(c *fiber.Ctx) error {
		actor, err := cfg.GetActor(c)
		if err != nil || actor == nil {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}
		c.Locals(ActorKey, actor)
		c.SetUserContext(billing.WithActor(c.UserContext(), actor))
		return c.Next()
	}
}

// Register mounts the subscription endpoints on r. The action endpoints run
// behind the middleware; the webhook authenticates by signature and does not.
func Register(r fiber.Router, h *api.Handler, cfg Config) {
	mw := Middleware(cfg)
	for _, rt := range h.Routes("") {
		if strings.HasSuffix(rt.Path, api.WebhookPath) {
			r.Add(rt.Method, rt.Path, adaptor.HTTPHandlerFunc(rt.Handler))
			continue
		}
		r.Add(rt.Method, rt.Path, mw, wrap(rt.Handler))
	}
}

// wrap adapts a net/http handler, carrying the actor across the fasthttp
// conversion which drops Go context values.
func wrap(h http.HandlerFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, _ := ActorFrom(c)
		return adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor != nil {
				r = r.WithContext(billing.WithActor(r.Context(), actor))
			}
			h(w, r)
		})(c)
	}
}

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(api.ErrorResponse{
		Code:    billing.ErrUnauthorized.Code,
		Message: billing.ErrUnauthorized.Message,
	})
}

// Convenience extractors

// FromContext returns an ActorExtractor reading a user id an auth middleware
// stored via c.Locals(userKey, "...") and an optional organization id.
func FromContext(userKey, organizationKey string) ActorExtractor {
	return func(c *fiber.Ctx) (*billing.Actor, error) {
		userID, _ := c.Locals(userKey).(string)
		if userID == "" {
			return nil, nil
		}
		var orgID string
		if organizationKey != "" {
			orgID, _ = c.Locals(organizationKey).(string)
		}
		return newActor(userID, orgID), nil
	}
}

// FromHeader returns an ActorExtractor trusting identity headers set by an
// authenticating proxy.
func FromHeader(userHeader, organizationHeader string) ActorExtractor {
	return func(c *fiber.Ctx) (*billing.Actor, error) {
		userID := c.Get(userHeader)
		if userID == "" {
			return nil, nil
		}
		var orgID string
		if organizationHeader != "" {
			orgID = c.Get(organizationHeader)
		}
		return newActor(userID, orgID), nil
	}
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(c *fiber.Ctx) (*billing.Actor, bool) {
	a, ok := c.Locals(ActorKey).(*billing.Actor)
	return a, ok
}

func newActor(userID, orgID string) *billing.Actor {
	return &billing.Actor{
		User:    billing.User{ID: userID, EmailVerified: true},
		Session: billing.Session{UserID: userID, ActiveOrganizationID: orgID},
	}
}
