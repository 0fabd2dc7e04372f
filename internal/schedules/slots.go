package schedules

import (
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Hours is the daily business window in minutes after midnight.
type Hours struct {
	Open  int
	Close int
}

func (h Hours) bounds(day time.Time) (time.Time, time.Time) {
	d := day.In(shared.Seoul)
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, shared.Seoul)
	return midnight.Add(time.Duration(h.Open) * time.Minute), midnight.Add(time.Duration(h.Close) * time.Minute)
}

// Contains reports whether iv lies within the business window of its start day.
func (h Hours) Contains(iv Interval) bool {
	open, closeAt := h.bounds(iv.Start)
	return !iv.Start.Before(open) && !iv.End.After(closeAt)
}

// GenerateSlots splits day into back-to-back slots of the given length inside
// business hours. A slot is unavailable when it overlaps busy or starts before now.
func GenerateSlots(day time.Time, h Hours, minutes int, busy []Interval, now time.Time) []Slot {
	if minutes <= 0 {
		return []Slot{}
	}
	open, closeAt := h.bounds(day)
	step := time.Duration(minutes) * time.Minute
	slots := []Slot{}
	for start := open; !start.Add(step).After(closeAt); start = start.Add(step) {
		iv := Interval{Start: start, End: start.Add(step)}
		available := !start.Before(now)
		for _, b := range busy {
			if available && iv.Overlaps(b) {
				available = false
			}
		}
		slots = append(slots, Slot{StartsAt: iv.Start, EndsAt: iv.End, Available: available})
	}
	return slots
}
