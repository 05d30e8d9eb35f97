package ical

import (
	"testing"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(t *testing.T, extra ...string) *goical.Component {
	t.Helper()
	obj, err := ParseObject(calendarBytes(eventLines(extra...)...))
	require.NoError(t, err)
	return obj.Master
}

func TestAttendeeDefaults(t *testing.T) {
	comp := testEvent(t, "ATTENDEE:mailto:Bob@Example.com")
	atts := Attendees(comp)
	require.Len(t, atts, 1)

	a := atts[0]
	assert.Equal(t, "mailto:Bob@Example.com", a.URI)
	assert.Equal(t, "bob@example.com", a.Address)
	assert.Equal(t, PartStatNeedsAction, a.PartStat)
	assert.Equal(t, "REQ-PARTICIPANT", a.Role)
	assert.Equal(t, AgentServer, a.ScheduleAgent)
	assert.False(t, a.RSVP)
}

func TestAttendeeExplicitParams(t *testing.T) {
	comp := testEvent(t,
		"ATTENDEE;CN=Bob;ROLE=OPT-PARTICIPANT;PARTSTAT=TENTATIVE;RSVP=TRUE;SCHEDULE-AGENT=CLIENT;SCHEDULE-FORCE-SEND=REQUEST:mailto:bob@example.com")
	a := Attendees(comp)[0]
	assert.Equal(t, "Bob", a.CommonName)
	assert.Equal(t, "OPT-PARTICIPANT", a.Role)
	assert.Equal(t, PartStatTentative, a.PartStat)
	assert.True(t, a.RSVP)
	assert.Equal(t, AgentClient, a.ScheduleAgent)
	assert.Equal(t, "REQUEST", a.ForceSend)
}

func TestPartStatMutation(t *testing.T) {
	comp := testEvent(t,
		"ATTENDEE:mailto:bob@example.com",
		"ATTENDEE;PARTSTAT=DECLINED:mailto:carol@example.com",
	)

	assert.Equal(t, PartStatNeedsAction, PartStat(comp, "bob@example.com"))
	assert.Equal(t, PartStatDeclined, PartStat(comp, "carol@example.com"))
	assert.Equal(t, PartStatNeedsAction, PartStat(comp, "nobody@example.com"))

	SetPartStat(comp, "bob@example.com", PartStatAccepted)
	assert.Equal(t, PartStatAccepted, PartStat(comp, "bob@example.com"))
	assert.Equal(t, PartStatDeclined, PartStat(comp, "carol@example.com"))
}

func TestSequence(t *testing.T) {
	comp := testEvent(t)
	assert.Equal(t, 0, Sequence(comp))

	SetSequence(comp, 4)
	assert.Equal(t, 4, Sequence(comp))

	comp.Props.SetText(goical.PropSequence, "garbage")
	assert.Equal(t, 0, Sequence(comp))
}

func TestSetScheduleStatus(t *testing.T) {
	comp := testEvent(t,
		"ORGANIZER:mailto:alice@example.com",
		"ATTENDEE:mailto:bob@example.com",
	)

	SetScheduleStatus(comp, goical.PropAttendee, "bob@example.com", "1.2")
	p := AttendeeProp(comp, "bob@example.com")
	require.NotNil(t, p)
	assert.Equal(t, "1.2", p.Params.Get(ParamScheduleStatus))

	SetScheduleStatus(comp, goical.PropOrganizer, "alice@example.com", "2.0")
	assert.Equal(t, "2.0", comp.Props.Get(goical.PropOrganizer).Params.Get(ParamScheduleStatus))
}

func TestStripSchedulingParams(t *testing.T) {
	comp := testEvent(t,
		"ATTENDEE;PARTSTAT=ACCEPTED;SCHEDULE-AGENT=SERVER;SCHEDULE-STATUS=1.2;SCHEDULE-FORCE-SEND=REQUEST:mailto:bob@example.com")
	p := AttendeeProp(comp, "bob@example.com")
	require.NotNil(t, p)

	StripSchedulingParams(p)
	assert.Empty(t, p.Params.Get(ParamScheduleAgent))
	assert.Empty(t, p.Params.Get(ParamScheduleStatus))
	assert.Empty(t, p.Params.Get(ParamScheduleForceSend))
	assert.Equal(t, PartStatAccepted, p.Params.Get(goical.ParamParticipationStatus))
}

func TestParseDateTime(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	ts, allDay, err := ParseDateTime("20260110T100000Z", berlin)
	require.NoError(t, err)
	assert.False(t, allDay)
	assert.Equal(t, time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC), ts)

	ts, allDay, err = ParseDateTime("20260110T100000", berlin)
	require.NoError(t, err)
	assert.False(t, allDay)
	assert.Equal(t, time.Date(2026, 1, 10, 10, 0, 0, 0, berlin), ts)

	ts, allDay, err = ParseDateTime("20260110", nil)
	require.NoError(t, err)
	assert.True(t, allDay)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), ts)

	_, _, err = ParseDateTime("next tuesday", nil)
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT1H":     time.Hour,
		"PT15M":    15 * time.Minute,
		"P1DT12H":  36 * time.Hour,
		"P2W":      14 * 24 * time.Hour,
		"-PT30M":   -30 * time.Minute,
		"+PT5M30S": 5*time.Minute + 30*time.Second,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDuration("1H")
	assert.ErrorIs(t, err, errInvalidDuration)
}
