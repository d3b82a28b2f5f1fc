package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/openclaw/pkg/models"
)

var dayNames = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

// InWindow reports whether now falls inside a policy window. The comparison
// happens in the window's IANA timezone (host timezone when unset). An end
// before start wraps past midnight; on wrapped windows the day filter
// matches the day the window started.
func InWindow(now time.Time, w models.PolicyWindow) (bool, error) {
	loc := now.Location()
	if w.TZ != "" {
		l, err := time.LoadLocation(w.TZ)
		if err != nil {
			return false, fmt.Errorf("window tz %q: %w", w.TZ, err)
		}
		loc = l
	}
	local := now.In(loc)

	start, err := parseHHMM(w.Start)
	if err != nil {
		return false, fmt.Errorf("window start: %w", err)
	}
	end, err := parseHHMM(w.End)
	if err != nil {
		return false, fmt.Errorf("window end: %w", err)
	}

	minutes := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	if end >= start {
		return dayAllowed(w.Days, day) && minutes >= start && minutes < end, nil
	}

	// Wrapped window, e.g. 22:00-06:00. The early-morning side belongs to
	// the previous day's window.
	if minutes >= start {
		return dayAllowed(w.Days, day), nil
	}
	if minutes < end {
		prev := (day + 6) % 7
		return dayAllowed(w.Days, prev), nil
	}
	return false, nil
}

// InAnyWindow reports whether now falls inside at least one window.
// Malformed windows are skipped; the first parse error is returned alongside
// the result so callers can log it.
func InAnyWindow(now time.Time, windows []models.PolicyWindow) (bool, error) {
	var firstErr error
	for _, w := range windows {
		in, err := InWindow(now, w)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if in {
			return true, firstErr
		}
	}
	return false, firstErr
}

func dayAllowed(days []string, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	name := dayNames[d]
	for _, want := range days {
		if strings.EqualFold(want, name) {
			return true
		}
	}
	return false
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}
