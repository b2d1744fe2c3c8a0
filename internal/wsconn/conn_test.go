package wsconn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tabletop-vtt/server/internal/room"
)

func TestConn_RateLimited_TripsAfterLimitReached(t *testing.T) {
	c := &Conn{
		moveLimiter:  newPerSecondLimiter(2),
		eraseLimiter: newPerSecondLimiter(2),
	}

	assert.False(t, c.rateLimited(room.EventTokenMove))
	assert.False(t, c.rateLimited(room.EventTokenMove))
	assert.True(t, c.rateLimited(room.EventTokenMove), "third TOKEN_MOVE within the window should trip the limiter")
}

func TestConn_RateLimited_IgnoresUnrelatedEventTypes(t *testing.T) {
	c := &Conn{
		moveLimiter:  newPerSecondLimiter(1),
		eraseLimiter: newPerSecondLimiter(1),
	}

	for i := 0; i < 5; i++ {
		assert.False(t, c.rateLimited(room.EventStrokeAdd))
	}
}

func TestConn_RateLimited_MoveAndEraseTrackedIndependently(t *testing.T) {
	c := &Conn{
		moveLimiter:  newPerSecondLimiter(1),
		eraseLimiter: newPerSecondLimiter(1),
	}

	assert.False(t, c.rateLimited(room.EventTokenMove))
	assert.False(t, c.rateLimited(room.EventEraseAt))
	assert.True(t, c.rateLimited(room.EventTokenMove))
	assert.True(t, c.rateLimited(room.EventEraseAt))
}
