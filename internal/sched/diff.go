package sched

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	goical "github.com/emersion/go-ical"

	"github.com/calfed/itipd/pkg/ical"
)

// Outcome classifies a per-recurrence comparison of two components.
type Outcome int

const (
	Unchanged Outcome = iota
	Cosmetic
	NeedsAction
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Cosmetic:
		return "cosmetic"
	default:
		return "needsAction"
	}
}

// Properties whose change forces attendees to re-confirm.
var reactionProps = []string{
	goical.PropDateTimeStart,
	goical.PropDateTimeEnd,
	goical.PropDuration,
	goical.PropDue,
	goical.PropRecurrenceRule,
}

var cosmeticProps = []string{
	goical.PropSummary,
	goical.PropLocation,
	goical.PropDescription,
}

// Classify compares two components of the same recurrence. A missing
// side counts as needsAction.
func Classify(oldComp, newComp *goical.Component) Outcome {
	if oldComp == nil || newComp == nil {
		return NeedsAction
	}
	for _, name := range reactionProps {
		if !propsEqual(oldComp, newComp, name) {
			return NeedsAction
		}
	}
	if dateSetDigest(oldComp, goical.PropRecurrenceDates) != dateSetDigest(newComp, goical.PropRecurrenceDates) {
		return NeedsAction
	}
	if dateSetDigest(oldComp, goical.PropExceptionDates) != dateSetDigest(newComp, goical.PropExceptionDates) {
		return NeedsAction
	}
	for _, name := range cosmeticProps {
		if !propsEqual(oldComp, newComp, name) {
			return Cosmetic
		}
	}
	return Unchanged
}

// ClassifyForAttendee classifies and, on needsAction, applies the
// mandatory side effects on newComp: SEQUENCE is raised to
// max(oldSeq+1, newSeq) and the attendee's PARTSTAT is reset. These run
// before any wire copy is assembled. A first invite has no prior state
// to react to, so a nil oldComp classifies needsAction without touching
// SEQUENCE or PARTSTAT.
func ClassifyForAttendee(oldComp, newComp *goical.Component, attendee string) Outcome {
	out := Classify(oldComp, newComp)
	if out != NeedsAction || newComp == nil || oldComp == nil {
		return out
	}
	oldSeq := ical.Sequence(oldComp)
	if newSeq := ical.Sequence(newComp); newSeq < oldSeq+1 {
		ical.SetSequence(newComp, oldSeq+1)
	}
	if attendee != "" {
		ical.SetPartStat(newComp, attendee, ical.PartStatNeedsAction)
	}
	return out
}

func propsEqual(a, b *goical.Component, name string) bool {
	return propKey(a, name) == propKey(b, name)
}

// propKey renders every instance of a property, with sorted parameters,
// into one comparable string.
func propKey(c *goical.Component, name string) string {
	props := c.Props.Values(name)
	keys := make([]string, 0, len(props))
	for i := range props {
		keys = append(keys, propString(&props[i]))
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x00")
}

func propString(p *goical.Prop) string {
	var sb strings.Builder
	names := make([]string, 0, len(p.Params))
	for k := range p.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		vs := append([]string(nil), p.Params[k]...)
		sort.Strings(vs)
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(vs, ","))
		sb.WriteByte(';')
	}
	sb.WriteByte(':')
	sb.WriteString(p.Value)
	return sb.String()
}

// dateSetDigest hashes the multiset of RDATE/EXDATE entries. Each
// property value may carry a comma-separated list; entries are compared
// order-insensitively together with their parameters.
func dateSetDigest(c *goical.Component, name string) string {
	props := c.Props.Values(name)
	var entries []string
	for i := range props {
		params := propString(&goical.Prop{Name: name, Params: props[i].Params})
		for _, v := range strings.Split(props[i].Value, ",") {
			v = strings.TrimSpace(v)
			if v != "" {
				entries = append(entries, params+v)
			}
		}
	}
	if len(entries) == 0 {
		return ""
	}
	sort.Strings(entries)
	sum := sha256.Sum256([]byte(strings.Join(entries, "\n")))
	return hex.EncodeToString(sum[:])
}
