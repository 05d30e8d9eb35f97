package ical

import (
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-ical"
)

type Interval struct{ S, E time.Time }

// MergeIntervals sorts and coalesces overlapping or touching busy
// intervals.
func MergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]Interval(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].S.Before(sorted[j].S) })
	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.S.After(last.E) {
			if iv.E.After(last.E) {
				last.E = iv.E
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// BuildFreeBusy renders a VFREEBUSY reply calendar for one attendee.
func BuildFreeBusy(prodID, uid, organizer, attendee string, start, end time.Time, busy []Interval) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropMethod, MethodReply)

	fb := ical.NewComponent(ical.CompFreeBusy)
	fb.Props.SetText(ical.PropUID, uid)
	fb.Props.Set(&ical.Prop{Name: ical.PropDateTimeStamp, Value: FormatDateTimeUTC(time.Now())})
	fb.Props.Set(&ical.Prop{Name: ical.PropDateTimeStart, Value: FormatDateTimeUTC(start)})
	fb.Props.Set(&ical.Prop{Name: ical.PropDateTimeEnd, Value: FormatDateTimeUTC(end)})
	if organizer != "" {
		fb.Props.Set(&ical.Prop{Name: ical.PropOrganizer, Value: "mailto:" + NormalizeAddress(organizer)})
	}
	if attendee != "" {
		fb.Props.Set(&ical.Prop{Name: ical.PropAttendee, Value: "mailto:" + NormalizeAddress(attendee)})
	}
	for _, iv := range MergeIntervals(busy) {
		p := ical.NewProp(ical.PropFreeBusy)
		p.Params.Set("FBTYPE", "BUSY")
		p.Value = fmt.Sprintf("%s/%s", FormatDateTimeUTC(iv.S), FormatDateTimeUTC(iv.E))
		fb.Props.Add(p)
	}

	cal.Children = append(cal.Children, fb)
	return cal
}
