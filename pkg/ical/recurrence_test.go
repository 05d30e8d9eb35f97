package ical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expand(t *testing.T, data []byte, winStart, winEnd time.Time) []Interval {
	t.Helper()
	obj, err := ParseObject(data)
	require.NoError(t, err)
	out, err := NewRecurrenceExpander(time.UTC).Occurrences(obj, winStart, winEnd)
	require.NoError(t, err)
	return out
}

func window() (time.Time, time.Time) {
	return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
}

func TestOccurrencesSingleEvent(t *testing.T) {
	winStart, winEnd := window()
	out := expand(t, calendarBytes(eventLines()...), winStart, winEnd)
	require.Len(t, out, 1)
	assert.Equal(t, time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC), out[0].S)
	assert.Equal(t, time.Date(2026, 1, 10, 11, 0, 0, 0, time.UTC), out[0].E)
}

func TestOccurrencesOutsideWindow(t *testing.T) {
	out := expand(t, calendarBytes(eventLines()...),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, out)
}

func TestOccurrencesRRule(t *testing.T) {
	winStart, winEnd := window()
	out := expand(t, calendarBytes(eventLines("RRULE:FREQ=DAILY;COUNT=3")...), winStart, winEnd)
	require.Len(t, out, 3)
	assert.Equal(t, time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC), out[2].S)
}

func TestOccurrencesExDate(t *testing.T) {
	winStart, winEnd := window()
	out := expand(t, calendarBytes(eventLines(
		"RRULE:FREQ=DAILY;COUNT=3",
		"EXDATE:20260111T100000Z",
	)...), winStart, winEnd)
	require.Len(t, out, 2)
	assert.Equal(t, time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC), out[0].S)
	assert.Equal(t, time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC), out[1].S)
}

// An override shifts its occurrence; the master slot it replaces must
// not appear alongside it.
func TestOccurrencesOverrideReplacesMasterSlot(t *testing.T) {
	winStart, winEnd := window()
	out := expand(t, calendarBytes(append(
		eventLines("RRULE:FREQ=DAILY;COUNT=3"),
		"BEGIN:VEVENT",
		"UID:evt-1",
		"RECURRENCE-ID:20260111T100000Z",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260111T150000Z",
		"DTEND:20260111T160000Z",
		"END:VEVENT",
	)...), winStart, winEnd)

	require.Len(t, out, 3)
	var starts []time.Time
	for _, iv := range out {
		starts = append(starts, iv.S)
	}
	assert.Contains(t, starts, time.Date(2026, 1, 11, 15, 0, 0, 0, time.UTC))
	assert.NotContains(t, starts, time.Date(2026, 1, 11, 10, 0, 0, 0, time.UTC))
}

func TestOccurrencesRDate(t *testing.T) {
	winStart, winEnd := window()
	out := expand(t, calendarBytes(eventLines("RDATE:20260115T100000Z")...), winStart, winEnd)
	require.Len(t, out, 2)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), out[1].S)
}

func TestOccurrencesDurationAndAllDay(t *testing.T) {
	winStart, winEnd := window()

	out := expand(t, calendarBytes(
		"BEGIN:VEVENT",
		"UID:evt-1",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260110T100000Z",
		"DURATION:PT90M",
		"END:VEVENT",
	), winStart, winEnd)
	require.Len(t, out, 1)
	assert.Equal(t, 90*time.Minute, out[0].E.Sub(out[0].S))

	out = expand(t, calendarBytes(
		"BEGIN:VEVENT",
		"UID:evt-2",
		"DTSTAMP:20260101T000000Z",
		"DTSTART;VALUE=DATE:20260112",
		"END:VEVENT",
	), winStart, winEnd)
	require.Len(t, out, 1)
	assert.Equal(t, 24*time.Hour, out[0].E.Sub(out[0].S))
}

func TestComponentIntervalDueFallback(t *testing.T) {
	obj, err := ParseObject(calendarBytes(
		"BEGIN:VTODO",
		"UID:todo-1",
		"DTSTAMP:20260101T000000Z",
		"DUE:20260110T170000Z",
		"END:VTODO",
	))
	require.NoError(t, err)

	iv, err := ComponentInterval(obj.Master, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 10, 17, 0, 0, 0, time.UTC), iv.S)
}
