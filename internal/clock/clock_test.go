package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 2, 1, 9, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	c := NewFakeClock(start)
	assert.Equal(t, time.UTC, c.Now().Location())

	c.Advance(2 * time.Hour)
	assert.Equal(t, 4, c.Now().Hour())

	c.AdvanceDays(7)
	assert.Equal(t, 8, c.Now().Day())

	c.Set(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2030, c.Now().Year())
}

func TestSystemClockIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, New().Now().Location())
}
