package billing

import "context"

// User is the subset of the host's user entity the billing layer needs.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
}

// Session is the subset of the host's session the billing layer needs.
type Session struct {
	ID                   string `json:"id"`
	UserID               string `json:"userId"`
	ActiveOrganizationID string `json:"activeOrganizationId,omitempty"`
}

// Actor is the authenticated caller of an action endpoint.
type Actor struct {
	User    User
	Session Session
}

type actorKey struct{}

// WithActor returns a context carrying the authenticated caller.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the caller stored by WithActor, if any.
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(*Actor)
	return a, ok && a != nil
}
