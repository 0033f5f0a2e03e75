package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock_Advance(t *testing.T) {
	start := time.Date(2026, 10, 15, 8, 56, 0, 0, time.UTC)
	c := NewFixedClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(14 * time.Minute)
	assert.Equal(t, time.Date(2026, 10, 15, 9, 10, 0, 0, time.UTC), c.Now())
}

func TestSystemClock_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	c := NewSystemClock(loc)
	assert.Equal(t, loc, c.Now().Location())

	assert.Equal(t, time.UTC, NewSystemClock(nil).Now().Location())
}
