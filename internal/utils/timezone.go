package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseLocation resolves a timezone setting into a *time.Location.
// Accepted forms: "" (UTC), IANA names ("America/New_York"), and
// fixed offsets "UTC+7", "GMT-3", "UTC+05:30", "UTC-0330".
func ParseLocation(tz string) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		return time.UTC, nil
	}

	upper := strings.ToUpper(name)
	if upper == "UTC" || upper == "GMT" {
		return time.UTC, nil
	}
	for _, prefix := range []string{"UTC", "GMT"} {
		if strings.HasPrefix(upper, prefix) {
			return fixedOffsetZone(name, upper[len(prefix):])
		}
	}

	return time.LoadLocation(name)
}

func fixedOffsetZone(original, offset string) (*time.Location, error) {
	if offset == "" {
		return time.UTC, nil
	}
	sign := 1
	switch offset[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("invalid timezone offset %q", original)
	}
	offset = offset[1:]

	var hours, minutes int
	var err error
	switch {
	case strings.Contains(offset, ":"):
		hh, mm, _ := strings.Cut(offset, ":")
		if hours, err = strconv.Atoi(hh); err != nil {
			return nil, fmt.Errorf("invalid timezone offset %q: %w", original, err)
		}
		if minutes, err = strconv.Atoi(mm); err != nil {
			return nil, fmt.Errorf("invalid timezone offset %q: %w", original, err)
		}
	case len(offset) == 4:
		if hours, err = strconv.Atoi(offset[:2]); err != nil {
			return nil, fmt.Errorf("invalid timezone offset %q: %w", original, err)
		}
		if minutes, err = strconv.Atoi(offset[2:]); err != nil {
			return nil, fmt.Errorf("invalid timezone offset %q: %w", original, err)
		}
	default:
		if hours, err = strconv.Atoi(offset); err != nil {
			return nil, fmt.Errorf("invalid timezone offset %q: %w", original, err)
		}
	}

	if hours < 0 || hours > 14 || minutes < 0 || minutes > 59 {
		return nil, fmt.Errorf("timezone offset %q out of range", original)
	}

	seconds := sign * (hours*3600 + minutes*60)
	label := fmt.Sprintf("UTC%+03d:%02d", sign*hours, minutes)
	return time.FixedZone(label, seconds), nil
}
