package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value, tz string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	require.NoError(t, err)
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", value, loc)
	require.NoError(t, err)
	return parsed
}

func TestEvaluateSameDayWindow(t *testing.T) {
	const tz = "America/New_York"
	cases := []struct {
		name   string
		now    string
		in     bool
		wait   time.Duration
	}{
		{name: "before opening", now: "2026-01-15 08:30:00", in: false, wait: 30 * time.Minute},
		{name: "at opening", now: "2026-01-15 09:00:00", in: true},
		{name: "inside", now: "2026-01-15 12:00:00", in: true},
		{name: "at close", now: "2026-01-15 17:00:00", in: false, wait: 16 * time.Hour},
		{name: "after close", now: "2026-01-15 20:00:00", in: false, wait: 13 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, wait, err := Evaluate(mustTime(t, tc.now, tz), "09:00", "17:00", tz)
			require.NoError(t, err)
			require.Equal(t, tc.in, in)
			require.Equal(t, tc.wait, wait)
		})
	}
}

func TestEvaluateMidnightCrossing(t *testing.T) {
	const tz = "Europe/Berlin"
	cases := []struct {
		name string
		now  string
		in   bool
		wait time.Duration
	}{
		{name: "just before open", now: "2026-01-15 23:58:00", in: false, wait: time.Minute},
		{name: "open side of midnight", now: "2026-01-15 23:59:30", in: true},
		{name: "past midnight still open", now: "2026-01-16 00:00:30", in: true},
		{name: "closed after window", now: "2026-01-16 00:01:00", in: false, wait: 23*time.Hour + 58*time.Minute},
		{name: "midday closed", now: "2026-01-16 12:00:00", in: false, wait: 11*time.Hour + 59*time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, wait, err := Evaluate(mustTime(t, tc.now, tz), "23:59", "00:01", tz)
			require.NoError(t, err)
			require.Equal(t, tc.in, in)
			require.Equal(t, tc.wait, wait)
		})
	}
}

func TestEvaluateConvertsCallerZone(t *testing.T) {
	// 14:00 UTC is 09:00 in New York, exactly at the opening.
	now := mustTime(t, "2026-01-15 14:00:00", "UTC")
	in, wait, err := Evaluate(now, "09:00", "17:00", "America/New_York")
	require.NoError(t, err)
	require.True(t, in)
	require.Zero(t, wait)
}

func TestEvaluateEqualBoundsAlwaysOpen(t *testing.T) {
	in, wait, err := Evaluate(mustTime(t, "2026-01-15 03:00:00", "UTC"), "09:00", "09:00", "UTC")
	require.NoError(t, err)
	require.True(t, in)
	require.Zero(t, wait)
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	now := time.Now()
	_, _, err := Evaluate(now, "09:00", "17:00", "Mars/Olympus")
	require.ErrorContains(t, err, "load timezone")
	_, _, err = Evaluate(now, "9am", "17:00", "UTC")
	require.ErrorContains(t, err, "start time")
	_, _, err = Evaluate(now, "09:00", "25:61", "UTC")
	require.ErrorContains(t, err, "end time")
}
