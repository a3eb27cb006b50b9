package booking

import (
	"fmt"
	"sort"
	"time"

	"github.com/hallcall/hallcall-api/pkg/calendar"
)

// Hours configures the bookable part of a day.
type Hours struct {
	Open        string // "09:00"
	Close       string // "18:00"
	SlotMinutes int
}

func DefaultHours() Hours {
	return Hours{Open: "09:00", Close: "18:00", SlotMinutes: 30}
}

func (h Hours) SlotLength() time.Duration {
	if h.SlotMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(h.SlotMinutes) * time.Minute
}

func (h Hours) bounds(day time.Time) (time.Time, time.Time, error) {
	o, err := time.Parse("15:04", h.Open)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid opening time %q", h.Open)
	}
	c, err := time.Parse("15:04", h.Close)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid closing time %q", h.Close)
	}
	return At(day, o.Hour(), o.Minute()), At(day, c.Hour(), c.Minute()), nil
}

// FreeSlots lists slot start times on day that lie within business hours,
// do not overlap a busy interval and do not start before now.
func FreeSlots(day time.Time, h Hours, busy []calendar.Interval, now time.Time) ([]time.Time, error) {
	open, closing, err := h.bounds(day)
	if err != nil {
		return nil, err
	}
	length := h.SlotLength()

	var out []time.Time
	for start := open; !start.Add(length).After(closing); start = start.Add(length) {
		if start.Before(now) {
			continue
		}
		if overlapsAny(busy, start, start.Add(length)) {
			continue
		}
		out = append(out, start)
	}
	return out, nil
}

// IsFree reports whether [start, start+length) is inside business hours and
// clear of busy intervals.
func IsFree(start time.Time, h Hours, busy []calendar.Interval, now time.Time) bool {
	open, closing, err := h.bounds(start)
	if err != nil {
		return false
	}
	end := start.Add(h.SlotLength())
	if start.Before(open) || end.After(closing) || start.Before(now) {
		return false
	}
	return !overlapsAny(busy, start, end)
}

func overlapsAny(busy []calendar.Interval, start, end time.Time) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// Nearest picks the n free slots closest to target, returned in
// chronological order.
func Nearest(free []time.Time, target time.Time, n int) []time.Time {
	if n <= 0 || len(free) == 0 {
		return nil
	}
	sorted := make([]time.Time, len(free))
	copy(sorted, free)
	sort.SliceStable(sorted, func(i, j int) bool {
		return absDur(sorted[i].Sub(target)) < absDur(sorted[j].Sub(target))
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return sorted
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
