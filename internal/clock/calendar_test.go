package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsMarketHoursUS(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")

	// Wednesday 10:00 ET — open
	open := time.Date(2026, 1, 7, 10, 0, 0, 0, loc)
	assert.True(t, IsMarketHours(US, open))

	// Wednesday 09:29 ET — one minute before open
	beforeOpen := time.Date(2026, 1, 7, 9, 29, 0, 0, loc)
	assert.False(t, IsMarketHours(US, beforeOpen))

	// Wednesday 16:00 ET — close boundary is exclusive
	atClose := time.Date(2026, 1, 7, 16, 0, 0, 0, loc)
	assert.False(t, IsMarketHours(US, atClose))

	// Saturday — always closed
	saturday := time.Date(2026, 1, 10, 10, 0, 0, 0, loc)
	assert.False(t, IsMarketHours(US, saturday))
}

func TestIsMarketHoursIndia(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Kolkata")

	open := time.Date(2026, 1, 7, 12, 0, 0, 0, loc)
	assert.True(t, IsMarketHours(India, open))

	beforeOpen := time.Date(2026, 1, 7, 9, 0, 0, 0, loc)
	assert.False(t, IsMarketHours(India, beforeOpen))

	afterClose := time.Date(2026, 1, 7, 15, 31, 0, 0, loc)
	assert.False(t, IsMarketHours(India, afterClose))
}

func TestIsMarketHoursConvertsAcrossTimezones(t *testing.T) {
	// 14:30 UTC on a Wednesday is 09:30 ET — the opening instant.
	utc := time.Date(2026, 1, 7, 14, 30, 0, 0, time.UTC)
	assert.True(t, IsMarketHours(US, utc))
}

func TestIsMarketHoursUnknownMarketAlwaysClosed(t *testing.T) {
	assert.False(t, IsMarketHours(Market("LSE"), time.Now()))
}

func TestWindowLookup(t *testing.T) {
	w, ok := Window(India)
	assert.True(t, ok)
	assert.Equal(t, 9, w.OpenHour)
	assert.Equal(t, 15, w.OpenMinute)

	_, ok = Window(Market("unknown"))
	assert.False(t, ok)
}
