package sched

import (
	"testing"

	goical "github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calfed/itipd/pkg/ical"
)

func parseObject(t *testing.T, data []byte) *ical.Object {
	t.Helper()
	obj, err := ical.ParseObject(data)
	require.NoError(t, err)
	return obj
}

func TestMergeRequestIsIdempotent(t *testing.T) {
	stored := parseObject(t, simpleEvent("ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com"))
	incoming := parseObject(t, simpleEvent("ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com"))

	first := mergeRequest(stored, incoming)
	assert.False(t, first, "same-sequence redelivery needs no inbox copy")

	again := mergeRequest(stored, parseObject(t, simpleEvent("ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com")))
	assert.False(t, again)
}

func TestMergeRequestPreservesLocalProps(t *testing.T) {
	stored := parseObject(t, simpleEvent())
	stored.Master.Props.SetText(goical.PropTransparency, "TRANSPARENT")
	ical.SetScheduleStatus(stored.Master, goical.PropOrganizer, "alice@example.com", StatusSuccess)

	incoming := parseObject(t, simpleEvent())
	ical.SetSequence(incoming.Master, 2)
	incoming.Master.Props.SetText(goical.PropSummary, "Planning v2")

	deliver := mergeRequest(stored, incoming)
	assert.True(t, deliver, "higher sequence requests an inbox copy")
	assert.Equal(t, "Planning v2", stored.Master.Props.Get(goical.PropSummary).Value)
	assert.Equal(t, "TRANSPARENT", stored.Master.Props.Get(goical.PropTransparency).Value)
	org := stored.Master.Props.Get(goical.PropOrganizer)
	require.NotNil(t, org)
	assert.Equal(t, StatusSuccess, org.Params.Get(ical.ParamScheduleStatus))
}

func TestMergeCancelWholeSeries(t *testing.T) {
	stored := parseObject(t, simpleEvent())
	incoming := parseObject(t, simpleEvent())
	incoming.Master.Props.SetText(goical.PropStatus, ical.StatusCancelled)

	mergeCancel(stored, incoming)

	assert.Equal(t, ical.StatusCancelled, stored.Master.Props.Get(goical.PropStatus).Value)
	assert.Equal(t, 1, ical.Sequence(stored.Master))
}

func TestMergeCancelSingleRecurrence(t *testing.T) {
	stored := parseObject(t, lines(
		"BEGIN:VEVENT",
		"UID:evt-1",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260110T100000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
		"ORGANIZER:mailto:alice@example.com",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:evt-1",
		"RECURRENCE-ID:20260111T100000Z",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260111T120000Z",
		"ORGANIZER:mailto:alice@example.com",
		"END:VEVENT",
	))
	incoming := parseObject(t, lines(
		"BEGIN:VEVENT",
		"UID:evt-1",
		"RECURRENCE-ID:20260111T100000Z",
		"DTSTAMP:20260102T000000Z",
		"DTSTART:20260111T120000Z",
		"STATUS:CANCELLED",
		"ORGANIZER:mailto:alice@example.com",
		"END:VEVENT",
	))

	mergeCancel(stored, incoming)

	assert.Nil(t, stored.Master.Props.Get(goical.PropStatus), "master stays live")
	override := stored.Overrides["20260111T100000Z"]
	require.NotNil(t, override)
	assert.Equal(t, ical.StatusCancelled, override.Props.Get(goical.PropStatus).Value)
}

func TestMergeReplyTouchesOnlyReplier(t *testing.T) {
	stored := parseObject(t, simpleEvent(
		"ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com",
		"ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:carol@example.com",
	))
	incoming := parseObject(t, lines(
		"BEGIN:VEVENT",
		"UID:evt-1",
		"DTSTAMP:20260102T000000Z",
		"DTSTART:20260110T100000Z",
		"DTEND:20260110T110000Z",
		"ORGANIZER:mailto:alice@example.com",
		"ATTENDEE;PARTSTAT=ACCEPTED:mailto:bob@example.com",
		"END:VEVENT",
	))

	mergeReply(stored, incoming, "bob@example.com")

	assert.Equal(t, ical.PartStatAccepted, ical.PartStat(stored.Master, "bob@example.com"))
	assert.Equal(t, ical.PartStatNeedsAction, ical.PartStat(stored.Master, "carol@example.com"))
	p := ical.AttendeeProp(stored.Master, "bob@example.com")
	require.NotNil(t, p)
	assert.Equal(t, StatusSuccess, p.Params.Get(ical.ParamScheduleStatus))
}

// A reply naming a recurrence with no stored override materializes one
// from the master.
func TestMergeReplyMaterializesOverride(t *testing.T) {
	stored := parseObject(t, lines(
		"BEGIN:VEVENT",
		"UID:evt-1",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260110T100000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
		"ORGANIZER:mailto:alice@example.com",
		"ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com",
		"END:VEVENT",
	))
	incoming := parseObject(t, lines(
		"BEGIN:VEVENT",
		"UID:evt-1",
		"RECURRENCE-ID:20260111T100000Z",
		"DTSTAMP:20260102T000000Z",
		"DTSTART:20260111T100000Z",
		"ORGANIZER:mailto:alice@example.com",
		"ATTENDEE;PARTSTAT=DECLINED:mailto:bob@example.com",
		"END:VEVENT",
	))

	mergeReply(stored, incoming, "bob@example.com")

	override := stored.Overrides["20260111T100000Z"]
	require.NotNil(t, override)
	assert.Nil(t, override.Props.Get(goical.PropRecurrenceRule))
	assert.Equal(t, ical.PartStatDeclined, ical.PartStat(override, "bob@example.com"))
	// The master is untouched.
	assert.Equal(t, ical.PartStatNeedsAction, ical.PartStat(stored.Master, "bob@example.com"))
}

func TestMergePollStatusReplacesVoters(t *testing.T) {
	stored := parseObject(t, lines(
		"BEGIN:VPOLL",
		"UID:poll-1",
		"DTSTAMP:20260101T000000Z",
		"ORGANIZER:mailto:alice@example.com",
		"BEGIN:VVOTER",
		"VOTER:mailto:bob@example.com",
		"END:VVOTER",
		"END:VPOLL",
	))
	incoming := parseObject(t, lines(
		"BEGIN:VPOLL",
		"UID:poll-1",
		"DTSTAMP:20260102T000000Z",
		"ORGANIZER:mailto:alice@example.com",
		"BEGIN:VVOTER",
		"VOTER:mailto:bob@example.com",
		"BEGIN:VOTE",
		"POLL-ITEM-ID:1",
		"RESPONSE:80",
		"END:VOTE",
		"END:VVOTER",
		"BEGIN:VVOTER",
		"VOTER:mailto:carol@example.com",
		"END:VVOTER",
		"END:VPOLL",
	))

	mergePollStatus(stored, incoming)

	var voters []*goical.Component
	for _, child := range stored.Master.Children {
		if child.Name == ical.CompVoter {
			voters = append(voters, child)
		}
	}
	require.Len(t, voters, 2)
}
