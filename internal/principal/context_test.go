package principal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalRoundTrip(t *testing.T) {
	ctx := WithID(context.Background(), "  user-7 ")
	id, ok := IDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-7", id)

	_, ok = IDFromContext(WithID(context.Background(), " "))
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}
