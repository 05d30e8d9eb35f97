package ical

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// Attendee is the decoded view of one ATTENDEE property.
type Attendee struct {
	URI           string
	Address       string // normalized
	CommonName    string
	Role          string
	PartStat      string
	RSVP          bool
	ScheduleAgent string
	ForceSend     string
}

func parseAttendee(p *ical.Prop) Attendee {
	a := Attendee{
		URI:           p.Value,
		Address:       NormalizeAddress(p.Value),
		CommonName:    p.Params.Get(ical.ParamCommonName),
		Role:          p.Params.Get("ROLE"),
		PartStat:      p.Params.Get(ical.ParamParticipationStatus),
		RSVP:          strings.EqualFold(p.Params.Get(ical.ParamRSVP), "TRUE"),
		ScheduleAgent: p.Params.Get(ParamScheduleAgent),
		ForceSend:     p.Params.Get(ParamScheduleForceSend),
	}
	if a.PartStat == "" {
		a.PartStat = PartStatNeedsAction
	}
	if a.Role == "" {
		a.Role = "REQ-PARTICIPANT"
	}
	if a.ScheduleAgent == "" {
		a.ScheduleAgent = AgentServer
	}
	return a
}

// Attendees decodes every ATTENDEE property on a component.
func Attendees(comp *ical.Component) []Attendee {
	props := comp.Props.Values(ical.PropAttendee)
	out := make([]Attendee, 0, len(props))
	for i := range props {
		out = append(out, parseAttendee(&props[i]))
	}
	return out
}

// AttendeeProp returns the ATTENDEE property matching an address, or nil.
func AttendeeProp(comp *ical.Component, addr string) *ical.Prop {
	props := comp.Props.Values(ical.PropAttendee)
	for i := range props {
		if EqualAddress(props[i].Value, addr) {
			return &props[i]
		}
	}
	return nil
}

// HasAttendee reports whether the component lists the address.
func HasAttendee(comp *ical.Component, addr string) bool {
	return comp != nil && AttendeeProp(comp, addr) != nil
}

// PartStat returns the participation status of an attendee on a
// component, defaulting to NEEDS-ACTION.
func PartStat(comp *ical.Component, addr string) string {
	if p := AttendeeProp(comp, addr); p != nil {
		if st := p.Params.Get(ical.ParamParticipationStatus); st != "" {
			return st
		}
	}
	return PartStatNeedsAction
}

// SetPartStat rewrites PARTSTAT for one attendee in place.
func SetPartStat(comp *ical.Component, addr, status string) {
	if p := AttendeeProp(comp, addr); p != nil {
		if p.Params == nil {
			p.Params = make(ical.Params)
		}
		p.Params.Set(ical.ParamParticipationStatus, status)
	}
}

// Sequence returns the component SEQUENCE, 0 when absent or malformed.
func Sequence(comp *ical.Component) int {
	if p := comp.Props.Get(ical.PropSequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

func SetSequence(comp *ical.Component, n int) {
	comp.Props.Set(&ical.Prop{Name: ical.PropSequence, Value: strconv.Itoa(n)})
}

// SetScheduleStatus writes SCHEDULE-STATUS onto the ATTENDEE (or, for
// an empty addr match, the ORGANIZER) property of a component.
func SetScheduleStatus(comp *ical.Component, propName, addr, status string) {
	props := comp.Props.Values(propName)
	for i := range props {
		if !EqualAddress(props[i].Value, addr) {
			continue
		}
		if props[i].Params == nil {
			props[i].Params = make(ical.Params)
		}
		props[i].Params.Set(ParamScheduleStatus, status)
	}
}

// StripSchedulingParams removes the RFC 6638 scheduling parameters from
// a property destined for the wire.
func StripSchedulingParams(p *ical.Prop) {
	if p.Params == nil {
		return
	}
	p.Params.Del(ParamScheduleAgent)
	p.Params.Del(ParamScheduleStatus)
	p.Params.Del(ParamScheduleForceSend)
}

const (
	dateFormat      = "20060102"
	localTimeFormat = "20060102T150405"
	utcTimeFormat   = "20060102T150405Z"
)

// FormatDateTimeUTC renders a time in the basic UTC form used for
// DTSTAMP and friends.
func FormatDateTimeUTC(t time.Time) string {
	return t.UTC().Format(utcTimeFormat)
}

// ParseDateTime parses DATE, floating DATE-TIME and UTC DATE-TIME
// values. The bool result reports a DATE (all-day) value.
func ParseDateTime(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	if len(s) == len(dateFormat) {
		t, err := time.ParseInLocation(dateFormat, s, loc)
		return t, true, err
	}
	if strings.HasSuffix(s, "Z") {
		t, err := time.Parse(utcTimeFormat, s)
		return t, false, err
	}
	t, err := time.ParseInLocation(localTimeFormat, s, loc)
	return t, false, err
}

// PropTime resolves a date-time property honoring its TZID parameter.
func PropTime(p *ical.Prop, fallback *time.Location) (time.Time, error) {
	loc := fallback
	if tzid := p.Params.Get(ical.ParamTimezoneID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	t, _, err := ParseDateTime(p.Value, loc)
	return t, err
}

// ParseDuration parses an RFC 5545 DURATION value.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else {
		s = strings.TrimPrefix(s, "+")
	}
	if !strings.HasPrefix(s, "P") {
		return 0, errInvalidDuration
	}
	var days, hours, minutes, seconds, weeks int
	var cur strings.Builder
	inTime := false
	for _, r := range s[1:] {
		switch r {
		case 'W':
			weeks = atoiOrZero(cur.String())
			cur.Reset()
		case 'D':
			days = atoiOrZero(cur.String())
			cur.Reset()
		case 'T':
			inTime = true
			cur.Reset()
		case 'H':
			if inTime {
				hours = atoiOrZero(cur.String())
			}
			cur.Reset()
		case 'M':
			if inTime {
				minutes = atoiOrZero(cur.String())
			}
			cur.Reset()
		case 'S':
			if inTime {
				seconds = atoiOrZero(cur.String())
			}
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	d := time.Duration(weeks)*7*24*time.Hour +
		time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}

var errInvalidDuration = errors.New("invalid duration format")

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
