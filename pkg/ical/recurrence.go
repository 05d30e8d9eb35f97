package ical

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// RecurrenceExpander turns a component set into concrete occurrence
// intervals within a query window.
type RecurrenceExpander struct {
	timeZone *time.Location
}

func NewRecurrenceExpander(tz *time.Location) *RecurrenceExpander {
	if tz == nil {
		tz = time.UTC
	}
	return &RecurrenceExpander{timeZone: tz}
}

// Occurrences expands an object into [start,end) intervals overlapping
// the window. Overrides replace the master occurrence they modify;
// EXDATEs suppress it.
func (re *RecurrenceExpander) Occurrences(obj *Object, winStart, winEnd time.Time) ([]Interval, error) {
	var out []Interval

	replaced := make(map[string]bool, len(obj.Overrides))
	for _, rid := range obj.RecurrenceIDs() {
		comp := obj.Overrides[rid]
		iv, err := re.componentInterval(comp)
		if err != nil {
			continue
		}
		if t, _, err := ParseDateTime(rid, re.timeZone); err == nil {
			replaced[keyFor(t)] = true
		}
		if overlaps(iv.S, iv.E, winStart, winEnd) {
			out = append(out, iv)
		}
	}

	if obj.Master != nil {
		base, err := re.componentInterval(obj.Master)
		if err != nil {
			return nil, err
		}
		dur := base.E.Sub(base.S)
		starts, err := re.expandMaster(obj.Master, base.S, winStart.Add(-dur), winEnd)
		if err != nil {
			return nil, err
		}
		for _, s := range starts {
			if replaced[keyFor(s)] {
				continue
			}
			e := s.Add(dur)
			if overlaps(s, e, winStart, winEnd) {
				out = append(out, Interval{S: s, E: e})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].S.Before(out[j].S) })
	return out, nil
}

// ComponentInterval resolves the concrete [start,end) span of a single
// component.
func ComponentInterval(comp *ical.Component, tz *time.Location) (Interval, error) {
	return NewRecurrenceExpander(tz).componentInterval(comp)
}

func (re *RecurrenceExpander) componentInterval(comp *ical.Component) (Interval, error) {
	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		// VTODO without DTSTART: fall back to DUE.
		dtstart = comp.Props.Get(ical.PropDue)
	}
	if dtstart == nil {
		return Interval{}, fmt.Errorf("component has no DTSTART")
	}
	start, err := PropTime(dtstart, re.timeZone)
	if err != nil {
		return Interval{}, err
	}
	if dtend := comp.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		end, err := PropTime(dtend, re.timeZone)
		if err != nil {
			return Interval{}, err
		}
		return Interval{S: start, E: end}, nil
	}
	if dur := comp.Props.Get(ical.PropDuration); dur != nil {
		d, err := ParseDuration(dur.Value)
		if err != nil {
			return Interval{}, err
		}
		return Interval{S: start, E: start.Add(d)}, nil
	}
	// Untimed events block the whole day, timed ones are points.
	if _, allDay, err := ParseDateTime(dtstart.Value, re.timeZone); err == nil && allDay {
		return Interval{S: start, E: start.Add(24 * time.Hour)}, nil
	}
	return Interval{S: start, E: start}, nil
}

func (re *RecurrenceExpander) expandMaster(comp *ical.Component, dtstart, from, to time.Time) ([]time.Time, error) {
	var starts []time.Time

	if rr := comp.Props.Get(ical.PropRecurrenceRule); rr != nil {
		rule, err := rrule.StrToRRule("DTSTART:" + dtstart.UTC().Format(utcTimeFormat) + "\nRRULE:" + rr.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE: %w", err)
		}
		starts = append(starts, rule.Between(from, to, true)...)
	} else {
		starts = append(starts, dtstart)
	}

	for _, p := range comp.Props.Values(ical.PropRecurrenceDates) {
		starts = append(starts, re.parseDateList(&p)...)
	}

	excluded := make(map[string]bool)
	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		for _, t := range re.parseDateList(&p) {
			excluded[keyFor(t)] = true
		}
	}

	var out []time.Time
	seen := make(map[string]bool, len(starts))
	for _, t := range starts {
		k := keyFor(t)
		if excluded[k] || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (re *RecurrenceExpander) parseDateList(p *ical.Prop) []time.Time {
	loc := re.timeZone
	if tzid := p.Params.Get(ical.ParamTimezoneID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, _, err := ParseDateTime(part, loc)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

func keyFor(t time.Time) string {
	return t.UTC().Format(utcTimeFormat)
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
