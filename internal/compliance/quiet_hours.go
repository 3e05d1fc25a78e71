package compliance

import (
	"fmt"
	"strings"
	"time"
)

// QuietHours is a daily local-time window in which outbound contact is
// prohibited. Start after End means the window wraps past midnight.
type QuietHours struct {
	start int // minutes after midnight
	end   int
}

// ParseQuietHours parses HH:MM bounds. Equal bounds disable the window.
func ParseQuietHours(start, end string) (QuietHours, error) {
	s, err := parseClock(start)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours end: %w", err)
	}
	return QuietHours{start: s, end: e}, nil
}

// Contains reports whether t, read in its own location, falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if q.start == q.end {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if q.start < q.end {
		return m >= q.start && m < q.end
	}
	return m >= q.start || m < q.end
}

// NextAllowed returns t when t is outside the window, otherwise the end of
// the current window in t's location.
func (q QuietHours) NextAllowed(t time.Time) time.Time {
	if !q.Contains(t) {
		return t
	}
	candidate := time.Date(t.Year(), t.Month(), t.Day(), q.end/60, q.end%60, 0, 0, t.Location())
	if !candidate.After(t) {
		candidate = time.Date(t.Year(), t.Month(), t.Day()+1, q.end/60, q.end%60, 0, 0, t.Location())
	}
	return candidate
}

func (q QuietHours) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", q.start/60, q.start%60, q.end/60, q.end%60)
}

func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
