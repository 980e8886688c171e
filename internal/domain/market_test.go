package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncateQuestion(t *testing.T) {
	long := "Will the incumbent win the 2026 gubernatorial election in a landslide?"
	got := TruncateQuestion(long, "0xcond", 48)
	assert.Len(t, got, 48)
	assert.Contains(t, got, "...")

	assert.Equal(t, "Short?", TruncateQuestion("Short?", "0xcond", 48))

	// Sin pregunta: cae al conditionID recortado.
	got = TruncateQuestion("", "0x1234567890abcdef1234567890abcdef", 48)
	assert.Equal(t, "0x1234567890abcdef12...", got)
}

func TestHoursToResolution(t *testing.T) {
	assert.Zero(t, Market{}.HoursToResolution())
	assert.Zero(t, Market{EndDate: time.Now().Add(-time.Hour)}.HoursToResolution())

	m := Market{EndDate: time.Now().Add(36 * time.Hour)}
	assert.InDelta(t, 36, m.HoursToResolution(), 0.1)
}
