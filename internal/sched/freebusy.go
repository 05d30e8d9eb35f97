package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"

	"github.com/calfed/itipd/internal/directory"
	"github.com/calfed/itipd/internal/ischedule"
	"github.com/calfed/itipd/pkg/ical"
)

// freeBusyQuery is a decoded VFREEBUSY REQUEST.
type freeBusyQuery struct {
	cal       *goical.Calendar
	comp      *goical.Component
	uid       string
	organizer string
	attendees []string
	start     time.Time
	end       time.Time
}

// QueryFreeBusy answers a VFREEBUSY REQUEST with one response per
// attendee: local users by scanning their calendars, cluster peers by
// forwarding over iSchedule, and iMIP-only users with a decline.
func (e *Engine) QueryFreeBusy(ctx context.Context, auth *AuthContext, calData []byte) ([]ischedule.RecipientResponse, error) {
	q, err := parseFreeBusyQuery(calData)
	if err != nil {
		return nil, err
	}

	var out []ischedule.RecipientResponse
	groups := make(map[string][]string)
	var groupOrder []string
	ports := make(map[string]int)

	for _, addr := range q.attendees {
		res, err := e.resolver.Resolve(ctx, addr, authUser(auth))
		if err != nil {
			if errors.Is(err, ErrNoUser) {
				out = append(out, declineResponse(addr, StatusNoUser))
				continue
			}
			out = append(out, declineResponse(addr, StatusTempFail))
			continue
		}
		switch res.Kind {
		case KindSelf, KindLocal:
			out = append(out, e.localFreeBusy(ctx, auth, q, res.User, addr))
		case KindExternal:
			// iMIP cannot answer busy-time queries.
			out = append(out, declineResponse(addr, StatusTempFail))
		case KindClusterRemote:
			key := res.Server
			if _, seen := groups[key]; !seen {
				groupOrder = append(groupOrder, key)
				ports[key] = res.Port
			}
			groups[key] = append(groups[key], addr)
		}
	}

	for _, server := range groupOrder {
		out = append(out, e.remoteFreeBusy(ctx, q, server, ports[server], groups[server])...)
	}
	return out, nil
}

func authUser(auth *AuthContext) *directory.User {
	if auth == nil {
		return nil
	}
	return auth.User
}

func parseFreeBusyQuery(calData []byte) (*freeBusyQuery, error) {
	cal, err := ical.DecodeCalendar(calData)
	if err != nil {
		return nil, err
	}
	var comp *goical.Component
	for _, child := range cal.Children {
		if child.Name == goical.CompFreeBusy {
			comp = child
			break
		}
	}
	if comp == nil {
		return nil, errors.New("request carries no VFREEBUSY component")
	}

	q := &freeBusyQuery{cal: cal, comp: comp}
	if p := comp.Props.Get(goical.PropUID); p != nil {
		q.uid = p.Value
	}
	q.organizer = ical.Organizer(comp)
	for _, att := range ical.Attendees(comp) {
		q.attendees = append(q.attendees, att.Address)
	}
	if len(q.attendees) == 0 {
		return nil, errors.New("VFREEBUSY request names no attendees")
	}

	for _, spec := range []struct {
		name string
		dst  *time.Time
	}{
		{goical.PropDateTimeStart, &q.start},
		{goical.PropDateTimeEnd, &q.end},
	} {
		p := comp.Props.Get(spec.name)
		if p == nil {
			return nil, fmt.Errorf("VFREEBUSY request is missing %s", spec.name)
		}
		t, err := ical.PropTime(p, time.UTC)
		if err != nil {
			return nil, err
		}
		*spec.dst = t
	}
	if !q.end.After(q.start) {
		return nil, errors.New("VFREEBUSY window is empty")
	}
	return q, nil
}

func (e *Engine) localFreeBusy(ctx context.Context, auth *AuthContext, q *freeBusyQuery, user *directory.User, addr string) ischedule.RecipientResponse {
	if auth != nil && auth.User != nil {
		eff, err := e.acl.Effective(ctx, auth.User, user.UID)
		if err != nil {
			return declineResponse(addr, StatusTempFail)
		}
		if !eff.CanQueryFreeBusy() {
			return declineResponse(addr, StatusNoPrivs)
		}
	}

	busy, err := e.busyIntervals(ctx, user.UID, q.start, q.end)
	if err != nil {
		e.logger.Error().Err(err).Str("user", user.UID).Msg("busy-time scan failed")
		return declineResponse(addr, StatusTempFail)
	}

	fb := ical.BuildFreeBusy(e.assembler.ProdID, q.uid, q.organizer, addr, q.start, q.end, busy)
	data, err := ical.EncodeCalendar(fb)
	if err != nil {
		return declineResponse(addr, StatusTempFail)
	}
	return ischedule.RecipientResponse{
		Recipient:     "mailto:" + addr,
		RequestStatus: RequestStatus(StatusSuccess),
		CalendarData:  string(data),
	}
}

// busyIntervals scans every opaque calendar of the user for busy time
// inside the window.
func (e *Engine) busyIntervals(ctx context.Context, ownerUID string, start, end time.Time) ([]ical.Interval, error) {
	cals, err := e.store.ListCalendarsByOwner(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	expander := ical.NewRecurrenceExpander(time.UTC)
	var busy []ical.Interval
	for _, cal := range cals {
		if strings.EqualFold(cal.Transparency, "transparent") {
			continue
		}
		objs, err := e.store.ListObjects(ctx, cal.ID, []string{goical.CompEvent, goical.CompFreeBusy}, &start, &end)
		if err != nil {
			return nil, err
		}
		for _, obj := range objs {
			if strings.EqualFold(obj.Component, goical.CompFreeBusy) {
				busy = append(busy, storedFreeBusyIntervals(obj.Data)...)
				continue
			}
			parsed, err := ical.ParseObject([]byte(obj.Data))
			if err != nil {
				e.logger.Warn().Err(err).Str("uid", obj.UID).Msg("skipping unparsable object in busy scan")
				continue
			}
			if componentTransparent(parsed.Master) {
				continue
			}
			ivs, err := expander.Occurrences(parsed, start, end)
			if err != nil {
				continue
			}
			busy = append(busy, ivs...)
		}
	}
	return ical.MergeIntervals(busy), nil
}

func componentTransparent(comp *goical.Component) bool {
	if comp == nil {
		return false
	}
	if p := comp.Props.Get(goical.PropTransparency); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		return true
	}
	return isCancelled(comp)
}

// storedFreeBusyIntervals reads the FREEBUSY periods of a stored
// VFREEBUSY object.
func storedFreeBusyIntervals(data string) []ical.Interval {
	cal, err := ical.DecodeCalendar([]byte(data))
	if err != nil {
		return nil
	}
	var out []ical.Interval
	for _, child := range cal.Children {
		if child.Name != goical.CompFreeBusy {
			continue
		}
		for _, p := range child.Props.Values(goical.PropFreeBusy) {
			if strings.EqualFold(p.Params.Get("FBTYPE"), "FREE") {
				continue
			}
			for _, period := range strings.Split(p.Value, ",") {
				s, e, ok := strings.Cut(strings.TrimSpace(period), "/")
				if !ok {
					continue
				}
				start, _, err := ical.ParseDateTime(s, time.UTC)
				if err != nil {
					continue
				}
				if d, err := ical.ParseDuration(e); err == nil {
					out = append(out, ical.Interval{S: start, E: start.Add(d)})
					continue
				}
				end, _, err := ical.ParseDateTime(e, time.UTC)
				if err != nil {
					continue
				}
				out = append(out, ical.Interval{S: start, E: end})
			}
		}
	}
	return out
}

// remoteFreeBusy forwards the query to one peer with just that peer's
// attendee set and passes its responses through verbatim.
func (e *Engine) remoteFreeBusy(ctx context.Context, q *freeBusyQuery, server string, port int, attendees []string) []ischedule.RecipientResponse {
	sub := restrictAttendees(q, attendees)
	data, err := ical.EncodeCalendar(sub)
	if err != nil {
		return declineAll(attendees, StatusTempFail)
	}
	responses, err := e.router.isched.Submit(ctx, &ischedule.Request{
		Server:     server,
		Port:       port,
		Originator: q.organizer,
		Recipients: attendees,
		Method:     ical.MethodRequest,
		Component:  goical.CompFreeBusy,
		ICalData:   data,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("server", server).Msg("federated busy-time query failed")
		return declineAll(attendees, StatusTempFail)
	}
	return responses
}

// restrictAttendees clones the request calendar with the attendee list
// narrowed to one peer's users.
func restrictAttendees(q *freeBusyQuery, attendees []string) *goical.Calendar {
	out := goical.NewCalendar()
	for name, props := range q.cal.Props {
		cp := make([]goical.Prop, len(props))
		copy(cp, props)
		out.Props[name] = cp
	}
	comp := ical.CloneComponent(q.comp)
	comp.Props.Del(goical.PropAttendee)
	for _, addr := range attendees {
		comp.Props.Add(&goical.Prop{Name: goical.PropAttendee, Value: "mailto:" + addr})
	}
	for _, child := range q.cal.Children {
		if child.Name == goical.CompTimezone {
			out.Children = append(out.Children, child)
		}
	}
	out.Children = append(out.Children, comp)
	return out
}

func declineResponse(addr, code string) ischedule.RecipientResponse {
	return ischedule.RecipientResponse{
		Recipient:     "mailto:" + ical.NormalizeAddress(addr),
		RequestStatus: RequestStatus(code),
	}
}

func declineAll(addrs []string, code string) []ischedule.RecipientResponse {
	out := make([]ischedule.RecipientResponse, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, declineResponse(addr, code))
	}
	return out
}
