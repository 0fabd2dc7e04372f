package schedules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/shared"
)

func seoul(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, shared.Seoul)
}

func TestGenerateSlots(t *testing.T) {
	hours := Hours{Open: 9 * 60, Close: 21 * 60}
	busy := []Interval{{Start: seoul(11, 10, 0), End: seoul(11, 10, 50)}}

	slots := GenerateSlots(seoul(11, 0, 0), hours, 50, busy, seoul(10, 12, 0))
	require.Len(t, slots, 14)
	assert.Equal(t, seoul(11, 9, 0), slots[0].StartsAt)
	assert.Equal(t, seoul(11, 20, 40), slots[13].EndsAt)
	assert.True(t, slots[0].Available)
	assert.False(t, slots[1].Available, "09:50 overlaps the 10:00 booking")
	assert.False(t, slots[2].Available, "10:40 overlaps the 10:00 booking")
	assert.True(t, slots[3].Available)

	slots = GenerateSlots(seoul(11, 0, 0), hours, 50, nil, seoul(11, 12, 0))
	assert.False(t, slots[0].Available)
	assert.True(t, slots[len(slots)-1].Available)

	assert.Empty(t, GenerateSlots(seoul(11, 0, 0), hours, 0, nil, seoul(10, 0, 0)))
}

func TestHoursContains(t *testing.T) {
	hours := Hours{Open: 9 * 60, Close: 21 * 60}
	assert.True(t, hours.Contains(Interval{Start: seoul(11, 9, 0), End: seoul(11, 9, 50)}))
	assert.True(t, hours.Contains(Interval{Start: seoul(11, 20, 10), End: seoul(11, 21, 0)}))
	assert.False(t, hours.Contains(Interval{Start: seoul(11, 8, 30), End: seoul(11, 9, 20)}))
	assert.False(t, hours.Contains(Interval{Start: seoul(11, 20, 30), End: seoul(11, 21, 20)}))
	// Start times in another zone are judged by the Seoul calendar day.
	utc := seoul(11, 10, 0).UTC()
	assert.True(t, hours.Contains(Interval{Start: utc, End: utc.Add(50 * time.Minute)}))
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusBooked, StatusConfirmed))
	assert.True(t, CanTransition(StatusConfirmed, StatusNoShow))
	assert.False(t, CanTransition(StatusBooked, StatusCompleted))
	assert.False(t, CanTransition(StatusCancelled, StatusBooked))
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
}
