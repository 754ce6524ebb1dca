// Package window computes daily sending-window gates. Windows are defined by
// two "HH:MM" wall-clock bounds in an IANA timezone and may cross midnight.
package window

import (
	"fmt"
	"time"
)

// Evaluate reports whether now falls inside the [start, end) window and, when
// it does not, the exact wait until the next opening. A window whose bounds
// are equal is always open.
func Evaluate(now time.Time, start, end, tz string) (bool, time.Duration, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, 0, fmt.Errorf("window: load timezone %q: %w", tz, err)
	}
	sh, sm, err := parseClock(start)
	if err != nil {
		return false, 0, fmt.Errorf("window: start time: %w", err)
	}
	eh, em, err := parseClock(end)
	if err != nil {
		return false, 0, fmt.Errorf("window: end time: %w", err)
	}
	if sh == eh && sm == em {
		return true, 0, nil
	}

	local := now.In(loc)
	y, mo, d := local.Date()
	opens := time.Date(y, mo, d, sh, sm, 0, 0, loc)
	closes := time.Date(y, mo, d, eh, em, 0, 0, loc)

	if opens.Before(closes) {
		switch {
		case local.Before(opens):
			return false, opens.Sub(local), nil
		case local.Before(closes):
			return true, 0, nil
		default:
			return false, opens.AddDate(0, 0, 1).Sub(local), nil
		}
	}

	// Window crosses midnight: opens late, closes early next day.
	if !local.Before(opens) || local.Before(closes) {
		return true, 0, nil
	}
	return false, opens.Sub(local), nil
}

// parseClock splits an "HH:MM" string into hour and minute.
func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
