package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInboundRateLimiterRollingWindow(t *testing.T) {
	assert := assert.New(t)

	uut := newInboundRateLimiter(3, time.Second*10)
	base := time.Now()

	// Case 0: up to max within the window
	assert.True(uut.allow("conn-0", base))
	assert.True(uut.allow("conn-0", base.Add(time.Second)))
	assert.True(uut.allow("conn-0", base.Add(time.Second*2)))

	// Case 1: over allowance
	assert.False(uut.allow("conn-0", base.Add(time.Second*3)))
	assert.False(uut.allow("conn-0", base.Add(time.Second*4)))

	// Case 2: other connections are unaffected
	assert.True(uut.allow("conn-1", base.Add(time.Second*3)))

	// Case 3: window rolls, not resets. By base+11s the hits at base and
	// base+1s have rolled out, so two slots are free; the denied attempts
	// above never consumed slots.
	assert.True(uut.allow("conn-0", base.Add(time.Second*11)))
	assert.True(uut.allow("conn-0", base.Add(time.Second*11)))
	assert.False(uut.allow("conn-0", base.Add(time.Second*11)))

	// Case 4: all hits rolled out
	assert.True(uut.allow("conn-0", base.Add(time.Minute)))
}

func TestInboundRateLimiterReset(t *testing.T) {
	assert := assert.New(t)

	uut := newInboundRateLimiter(1, time.Second*10)
	base := time.Now()

	assert.True(uut.allow("conn-0", base))
	assert.False(uut.allow("conn-0", base))

	// Reset clears the connection's window
	uut.reset("conn-0")
	assert.True(uut.allow("conn-0", base))
}
