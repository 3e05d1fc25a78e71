package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 5, 4, hour, minute, 0, 0, time.UTC)
}

func TestQuietHoursWrappingMidnight(t *testing.T) {
	q, err := ParseQuietHours("21:00", "08:00")
	require.NoError(t, err)

	assert.True(t, q.Contains(at(21, 0)))
	assert.True(t, q.Contains(at(23, 59)))
	assert.True(t, q.Contains(at(0, 30)))
	assert.True(t, q.Contains(at(7, 59)))
	assert.False(t, q.Contains(at(8, 0)))
	assert.False(t, q.Contains(at(20, 59)))

	assert.Equal(t, time.Date(2026, 5, 5, 8, 0, 0, 0, time.UTC), q.NextAllowed(at(22, 15)))
	assert.Equal(t, time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC), q.NextAllowed(at(3, 0)))
	assert.Equal(t, at(12, 0), q.NextAllowed(at(12, 0)))
}

func TestQuietHoursSameDay(t *testing.T) {
	q, err := ParseQuietHours("12:00", "13:30")
	require.NoError(t, err)

	assert.True(t, q.Contains(at(12, 45)))
	assert.False(t, q.Contains(at(13, 30)))
	assert.Equal(t, at(13, 30), q.NextAllowed(at(12, 0)))
}

func TestQuietHoursDisabledWhenBoundsEqual(t *testing.T) {
	q, err := ParseQuietHours("00:00", "00:00")
	require.NoError(t, err)
	assert.False(t, q.Contains(at(3, 0)))
}

func TestParseQuietHoursRejectsGarbage(t *testing.T) {
	_, err := ParseQuietHours("9pm", "08:00")
	assert.Error(t, err)
}
