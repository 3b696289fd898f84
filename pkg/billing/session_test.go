package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), nil)
	_, ok = ActorFromContext(ctx)
	assert.False(t, ok, "a nil actor is not an actor")

	actor := &Actor{User: User{ID: "u1"}, Session: Session{UserID: "u1", ActiveOrganizationID: "o1"}}
	got, ok := ActorFromContext(WithActor(context.Background(), actor))
	assert.True(t, ok)
	assert.Same(t, actor, got)
}
