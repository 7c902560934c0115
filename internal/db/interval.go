package db

import (
	"fmt"
	"strconv"
	"strings"
)

// normalizeInterval turns a Postgres interval rendering such as
// "1 day 01:10:00" into the GTFS form "25:10:00". Anything it does not
// recognise is returned unchanged.
func normalizeInterval(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.Fields(s)
	if len(fields) != 3 || (fields[1] != "day" && fields[1] != "days") {
		return trimFraction(s)
	}
	days, err := strconv.Atoi(fields[0])
	if err != nil {
		return s
	}
	clock := strings.SplitN(trimFraction(fields[2]), ":", 2)
	if len(clock) != 2 {
		return s
	}
	h, err := strconv.Atoi(clock[0])
	if err != nil {
		return s
	}
	return fmt.Sprintf("%02d:%s", days*24+h, clock[1])
}

func trimFraction(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}
