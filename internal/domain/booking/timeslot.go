package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// NormalizeTime canonicalizes a clock time to 24-hour "HH:MM". It accepts
// "H:M", "HH:MM", "HH:MM:SS" and 12-hour forms such as "9:05 AM" or "9:05pm".
// Seconds are dropped.
func NormalizeTime(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("time is empty")
	}

	meridiem := ""
	switch {
	case strings.HasSuffix(s, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(s, "PM"):
		meridiem = "PM"
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(s, "AM"), "PM"))

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", fmt.Errorf("invalid time %q", raw)
	}

	hour, err := parseClockField(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := parseClockField(parts[1])
	if err != nil || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", raw)
	}
	if len(parts) == 3 {
		if sec, err := parseClockField(parts[2]); err != nil || sec > 59 {
			return "", fmt.Errorf("invalid second in %q", raw)
		}
	}

	switch meridiem {
	case "":
		if hour > 23 {
			return "", fmt.Errorf("invalid hour in %q", raw)
		}
	default:
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("invalid 12-hour time %q", raw)
		}
		hour %= 12
		if meridiem == "PM" {
			hour += 12
		}
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func parseClockField(s string) (int, error) {
	if s == "" || len(s) > 2 {
		return 0, fmt.Errorf("bad field")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad field")
		}
	}
	return strconv.Atoi(s)
}

// NormalizeDate validates an ISO calendar date. RFC 3339 timestamps are
// accepted and reduced to their date part.
func NormalizeDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("date is empty")
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Format(time.DateOnly), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(time.DateOnly), nil
	}
	return "", fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
}

// SlotKey derives the slot lock key "doctor_date_time" with colons and
// whitespace removed. Callers normalize date and time first so equal slots
// collide.
func SlotKey(doctorID, date, clock string) string {
	raw := doctorID + "_" + date + "_" + clock
	return strings.Map(func(r rune) rune {
		if r == ':' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
}
