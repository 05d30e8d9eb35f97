package sched

import (
	"errors"
	"time"

	goical "github.com/emersion/go-ical"

	"github.com/calfed/itipd/pkg/ical"
)

// Assembler builds the minimal iTIP wire copies sent to each recipient.
// Outgoing clones never carry VALARMs or scheduling parameters, and
// DTSTAMP is always refreshed.
type Assembler struct {
	ProdID      string
	EnableVPoll bool
	Now         func() time.Time
}

func NewAssembler(prodID string, enableVPoll bool) *Assembler {
	return &Assembler{ProdID: prodID, EnableVPoll: enableVPoll, Now: time.Now}
}

// Build assembles an iTIP envelope for method from src, selecting the
// recurrence IDs in rids ("" addresses the master). When trimTo is
// non-empty all other ATTENDEE properties are dropped from each
// component (reply case).
func (a *Assembler) Build(method string, src *ical.Object, rids []string, trimTo string) (*goical.Calendar, error) {
	if src.Kind == ical.CompPoll && !a.EnableVPoll {
		return nil, errors.New("VPOLL scheduling is disabled")
	}

	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropProductID, a.ProdID)
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropMethod, method)
	if src.CalScale != "" {
		cal.Props.SetText(goical.PropCalendarScale, src.CalScale)
	}

	var comps []*goical.Component
	for _, rid := range rids {
		comp := src.Component(rid)
		if comp == nil {
			continue
		}
		comps = append(comps, a.WireCopy(method, comp, trimTo))
	}
	if len(comps) == 0 {
		return nil, errors.New("no components selected for iTIP message")
	}

	for _, tzid := range referencedTimezones(comps) {
		if tz, ok := src.Timezones[tzid]; ok {
			cal.Children = append(cal.Children, ical.CloneComponent(tz))
		}
	}
	cal.Children = append(cal.Children, comps...)
	return cal, nil
}

// WireCopy clones one component for the wire: fresh DTSTAMP, no
// VALARMs, no scheduling parameters, optionally trimmed to a single
// attendee.
func (a *Assembler) WireCopy(method string, comp *goical.Component, trimTo string) *goical.Component {
	out := ical.CloneComponent(comp)
	out.Props.Set(&goical.Prop{Name: goical.PropDateTimeStamp, Value: ical.FormatDateTimeUTC(a.Now())})

	var children []*goical.Component
	for _, child := range out.Children {
		if child.Name == goical.CompAlarm {
			continue
		}
		children = append(children, child)
	}
	out.Children = children

	if org := out.Props.Get(goical.PropOrganizer); org != nil {
		ical.StripSchedulingParams(org)
		out.Props.Set(org)
	}

	atts := out.Props.Values(goical.PropAttendee)
	kept := make([]goical.Prop, 0, len(atts))
	for i := range atts {
		if trimTo != "" && !ical.EqualAddress(atts[i].Value, trimTo) {
			continue
		}
		ical.StripSchedulingParams(&atts[i])
		kept = append(kept, atts[i])
	}
	if len(kept) > 0 {
		out.Props[goical.PropAttendee] = kept
	} else {
		out.Props.Del(goical.PropAttendee)
	}

	if out.Name == ical.CompPoll {
		a.trimPoll(method, out, trimTo)
	}
	return out
}

// trimPoll reduces a VPOLL reply to the voter's own ballot: candidate
// sub-components are dropped and only the matching VVOTER remains.
func (a *Assembler) trimPoll(method string, poll *goical.Component, voter string) {
	if method != ical.MethodReply || voter == "" {
		return
	}
	var children []*goical.Component
	for _, child := range poll.Children {
		if child.Name != ical.CompVoter {
			continue
		}
		if p := child.Props.Get("VOTER"); p != nil && ical.EqualAddress(p.Value, voter) {
			children = append(children, child)
		}
	}
	poll.Children = children
}

// AddExDate appends the recurrence ID of a skipped override as an
// EXDATE on a master clone, carrying over TZID/VALUE parameters.
func AddExDate(master *goical.Component, rid *goical.Prop) {
	ex := goical.NewProp(goical.PropExceptionDates)
	ex.Value = rid.Value
	if tzid := rid.Params.Get(goical.ParamTimezoneID); tzid != "" {
		ex.Params.Set(goical.ParamTimezoneID, tzid)
	}
	if vt := rid.Params.Get(goical.ParamValue); vt != "" {
		ex.Params.Set(goical.ParamValue, vt)
	}
	master.Props.Add(ex)
}

func referencedTimezones(comps []*goical.Component) []string {
	seen := make(map[string]bool)
	var out []string
	for _, comp := range comps {
		for _, props := range comp.Props {
			for i := range props {
				if tzid := props[i].Params.Get(goical.ParamTimezoneID); tzid != "" && !seen[tzid] {
					seen[tzid] = true
					out = append(out, tzid)
				}
			}
		}
	}
	return out
}
