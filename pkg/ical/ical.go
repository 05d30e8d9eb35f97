package ical

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-ical"
)

// iTIP methods as defined in RFC 5546, plus the VPOLL extension.
const (
	MethodPublish    = "PUBLISH"
	MethodRequest    = "REQUEST"
	MethodReply      = "REPLY"
	MethodCancel     = "CANCEL"
	MethodPollStatus = "POLLSTATUS"
)

// Participation status values.
const (
	PartStatNeedsAction = "NEEDS-ACTION"
	PartStatAccepted    = "ACCEPTED"
	PartStatDeclined    = "DECLINED"
	PartStatTentative   = "TENTATIVE"
	PartStatDelegated   = "DELEGATED"
)

// Scheduling property parameters (RFC 6638). These live only on stored
// objects and never appear on the wire.
const (
	ParamScheduleAgent     = "SCHEDULE-AGENT"
	ParamScheduleStatus    = "SCHEDULE-STATUS"
	ParamScheduleForceSend = "SCHEDULE-FORCE-SEND"
)

// SCHEDULE-AGENT values.
const (
	AgentServer = "SERVER"
	AgentClient = "CLIENT"
	AgentNone   = "NONE"
)

// VPOLL components are not covered by go-ical's constant set.
const (
	CompPoll  = "VPOLL"
	CompVoter = "VVOTER"
)

const StatusCancelled = "CANCELLED"

// Object is a parsed calendar object: every component sharing one UID,
// split into the master (no RECURRENCE-ID) and per-recurrence overrides.
type Object struct {
	UID      string
	Kind     string // VEVENT, VTODO, VPOLL
	ProdID   string
	CalScale string

	Master    *ical.Component
	Overrides map[string]*ical.Component // keyed by raw RECURRENCE-ID value
	Timezones map[string]*ical.Component // keyed by TZID
}

var schedulable = map[string]bool{
	ical.CompEvent: true,
	ical.CompToDo:  true,
	CompPoll:       true,
}

// ParseObject decodes an iCalendar stream and groups its schedulable
// components by recurrence. All components must share a single UID.
func ParseObject(data []byte) (*Object, error) {
	cal, err := DecodeCalendar(data)
	if err != nil {
		return nil, err
	}
	return ObjectFromCalendar(cal)
}

func ObjectFromCalendar(cal *ical.Calendar) (*Object, error) {
	obj := &Object{
		Overrides: make(map[string]*ical.Component),
		Timezones: make(map[string]*ical.Component),
	}
	if p := cal.Props.Get(ical.PropProductID); p != nil {
		obj.ProdID = p.Value
	}
	if p := cal.Props.Get(ical.PropCalendarScale); p != nil {
		obj.CalScale = p.Value
	}
	for _, comp := range cal.Children {
		if comp.Name == ical.CompTimezone {
			if tzid := comp.Props.Get(ical.PropTimezoneID); tzid != nil {
				obj.Timezones[tzid.Value] = comp
			}
			continue
		}
		if !schedulable[comp.Name] {
			continue
		}
		uid := ""
		if p := comp.Props.Get(ical.PropUID); p != nil {
			uid = p.Value
		}
		if uid == "" {
			return nil, errors.New("component missing UID")
		}
		if obj.UID == "" {
			obj.UID = uid
			obj.Kind = comp.Name
		} else if obj.UID != uid {
			return nil, fmt.Errorf("mixed UIDs in calendar object: %q vs %q", obj.UID, uid)
		} else if obj.Kind != comp.Name {
			return nil, fmt.Errorf("mixed component kinds for UID %q", uid)
		}
		rid := RecurrenceIDValue(comp)
		if rid == "" {
			if obj.Master != nil {
				return nil, fmt.Errorf("duplicate master component for UID %q", uid)
			}
			obj.Master = comp
		} else {
			if _, dup := obj.Overrides[rid]; dup {
				return nil, fmt.Errorf("duplicate override %q for UID %q", rid, uid)
			}
			obj.Overrides[rid] = comp
		}
	}
	if obj.Master == nil && len(obj.Overrides) == 0 {
		return nil, errors.New("no schedulable component found")
	}
	return obj, nil
}

// Component returns the component for a recurrence ID; the empty string
// addresses the master. Nil when the instance is not present.
func (o *Object) Component(rid string) *ical.Component {
	if rid == "" {
		return o.Master
	}
	return o.Overrides[rid]
}

// RecurrenceIDs lists the override keys in sorted order.
func (o *Object) RecurrenceIDs() []string {
	out := make([]string, 0, len(o.Overrides))
	for rid := range o.Overrides {
		out = append(out, rid)
	}
	sort.Strings(out)
	return out
}

// Instances yields the master (key "") followed by every override in
// sorted order.
func (o *Object) Instances() []Instance {
	var out []Instance
	if o.Master != nil {
		out = append(out, Instance{RecurrenceID: "", Comp: o.Master})
	}
	for _, rid := range o.RecurrenceIDs() {
		out = append(out, Instance{RecurrenceID: rid, Comp: o.Overrides[rid]})
	}
	return out
}

type Instance struct {
	RecurrenceID string
	Comp         *ical.Component
}

// Organizer returns the normalized organizer address of a component, or
// "" when none is present.
func Organizer(comp *ical.Component) string {
	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		return NormalizeAddress(p.Value)
	}
	return ""
}

// Organizer of the whole object, from the master or the first override.
func (o *Object) Organizer() string {
	for _, inst := range o.Instances() {
		if org := Organizer(inst.Comp); org != "" {
			return org
		}
	}
	return ""
}

func RecurrenceIDValue(comp *ical.Component) string {
	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		return p.Value
	}
	return ""
}

// NormalizeAddress strips the mailto: prefix and lowercases the address.
// Calendar user addresses compare case-insensitively.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 7 && strings.EqualFold(s[:7], "mailto:") {
		s = s[7:]
	}
	return strings.ToLower(s)
}

func EqualAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// Calendar reassembles the object into a VCALENDAR, timezones first,
// then the master and overrides in stable order.
func (o *Object) Calendar(prodID string) *ical.Calendar {
	cal := ical.NewCalendar()
	if prodID == "" {
		prodID = o.ProdID
	}
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if o.CalScale != "" {
		cal.Props.SetText(ical.PropCalendarScale, o.CalScale)
	}
	tzids := make([]string, 0, len(o.Timezones))
	for tzid := range o.Timezones {
		tzids = append(tzids, tzid)
	}
	sort.Strings(tzids)
	for _, tzid := range tzids {
		cal.Children = append(cal.Children, o.Timezones[tzid])
	}
	for _, inst := range o.Instances() {
		cal.Children = append(cal.Children, inst.Comp)
	}
	return cal
}

func DecodeCalendar(data []byte) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}
	return cal, nil
}

func EncodeCalendar(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CloneComponent deep-copies a component including params and children.
func CloneComponent(c *ical.Component) *ical.Component {
	out := &ical.Component{
		Name:  c.Name,
		Props: make(ical.Props, len(c.Props)),
	}
	for name, props := range c.Props {
		cp := make([]ical.Prop, len(props))
		for i := range props {
			cp[i] = CloneProp(&props[i])
		}
		out.Props[name] = cp
	}
	for _, child := range c.Children {
		out.Children = append(out.Children, CloneComponent(child))
	}
	return out
}

func CloneProp(p *ical.Prop) ical.Prop {
	out := ical.Prop{Name: p.Name, Value: p.Value}
	if p.Params != nil {
		out.Params = make(ical.Params, len(p.Params))
		for k, vs := range p.Params {
			out.Params[k] = append([]string(nil), vs...)
		}
	}
	return out
}
