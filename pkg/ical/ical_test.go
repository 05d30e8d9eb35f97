package ical

import (
	"strings"
	"testing"

	goical "github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calendarBytes(body ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, body...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func eventLines(extra ...string) []string {
	body := append([]string{
		"BEGIN:VEVENT",
		"UID:evt-1",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260110T100000Z",
		"DTEND:20260110T110000Z",
	}, extra...)
	return append(body, "END:VEVENT")
}

func TestParseObjectGroupsRecurrences(t *testing.T) {
	data := calendarBytes(append(
		eventLines("RRULE:FREQ=DAILY;COUNT=3"),
		"BEGIN:VEVENT",
		"UID:evt-1",
		"RECURRENCE-ID:20260111T100000Z",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260111T120000Z",
		"DTEND:20260111T130000Z",
		"END:VEVENT",
	)...)

	obj, err := ParseObject(data)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", obj.UID)
	assert.Equal(t, goical.CompEvent, obj.Kind)
	require.NotNil(t, obj.Master)
	require.Len(t, obj.Overrides, 1)
	assert.NotNil(t, obj.Component("20260111T100000Z"))
	assert.Same(t, obj.Master, obj.Component(""))
	assert.Nil(t, obj.Component("20990101T000000Z"))
	assert.Equal(t, []string{"20260111T100000Z"}, obj.RecurrenceIDs())
}

func TestParseObjectRejectsMixedUIDs(t *testing.T) {
	data := calendarBytes(append(eventLines(),
		"BEGIN:VEVENT",
		"UID:evt-2",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260112T100000Z",
		"END:VEVENT",
	)...)
	_, err := ParseObject(data)
	assert.ErrorContains(t, err, "mixed UIDs")
}

func TestParseObjectRejectsDuplicateMaster(t *testing.T) {
	data := calendarBytes(append(eventLines(), eventLines()...)...)
	_, err := ParseObject(data)
	assert.ErrorContains(t, err, "duplicate master")
}

func TestParseObjectRequiresSchedulableComponent(t *testing.T) {
	data := calendarBytes(
		"BEGIN:VTIMEZONE",
		"TZID:UTC",
		"BEGIN:STANDARD",
		"DTSTART:19700101T000000",
		"TZOFFSETFROM:+0000",
		"TZOFFSETTO:+0000",
		"END:STANDARD",
		"END:VTIMEZONE",
	)
	_, err := ParseObject(data)
	assert.Error(t, err)
}

func TestObjectOrganizer(t *testing.T) {
	obj, err := ParseObject(calendarBytes(eventLines("ORGANIZER;CN=Alice:mailto:Alice@Example.com")...))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", obj.Organizer())
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeAddress("MAILTO:Alice@Example.com"))
	assert.Equal(t, "alice@example.com", NormalizeAddress("  alice@example.com "))
	assert.Equal(t, "", NormalizeAddress("mailto:"))
	assert.True(t, EqualAddress("mailto:A@B.org", "a@b.org"))
	assert.False(t, EqualAddress("a@b.org", "c@b.org"))
}

func TestCalendarRoundTrip(t *testing.T) {
	obj, err := ParseObject(calendarBytes(eventLines("SUMMARY:Planning")...))
	require.NoError(t, err)

	out, err := EncodeCalendar(obj.Calendar("-//other//EN"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "PRODID:-//other//EN")
	assert.Contains(t, string(out), "SUMMARY:Planning")

	reparsed, err := ParseObject(out)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", reparsed.UID)
}

func TestCloneComponentIsDeep(t *testing.T) {
	obj, err := ParseObject(calendarBytes(eventLines("SUMMARY:Planning")...))
	require.NoError(t, err)

	clone := CloneComponent(obj.Master)
	clone.Props.SetText(goical.PropSummary, "Changed")

	assert.Equal(t, "Planning", obj.Master.Props.Get(goical.PropSummary).Value)
	assert.Equal(t, "Changed", clone.Props.Get(goical.PropSummary).Value)
}
