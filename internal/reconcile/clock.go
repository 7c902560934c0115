package reconcile

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock parses a GTFS HH:MM:SS time of day. Hours 24 through 47 fall on
// the following calendar day and are returned with dayOffset 1.
func ParseClock(s string) (h, m, sec, dayOffset int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, 0, 0, 0, fmt.Errorf("invalid time %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, 0, 0, 0, fmt.Errorf("invalid time %q", s)
		}
		v[i] = n
	}
	h, m, sec = v[0], v[1], v[2]
	if h >= 24 {
		h -= 24
		dayOffset = 1
	}
	if h > 23 || m > 59 || sec > 59 {
		return 0, 0, 0, 0, fmt.Errorf("time out of range %q", s)
	}
	return h, m, sec, dayOffset, nil
}

// ScheduledInstant places clock on the civil date of localNow, in localNow's
// location.
func ScheduledInstant(clock string, localNow time.Time) (time.Time, error) {
	h, m, s, dayOffset, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := localNow.Date()
	return time.Date(y, mo, d+dayOffset, h, m, s, 0, localNow.Location()), nil
}
