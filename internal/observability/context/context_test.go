package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithActor(ctx, "user", "ops@example.com")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	kind, id := ActorFromContext(ctx)
	assert.Equal(t, "user", kind)
	assert.Equal(t, "ops@example.com", id)

	kind, id = ActorFromContext(context.Background())
	assert.Empty(t, kind)
	assert.Empty(t, id)
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
