package sched

import (
	"context"
	"sort"

	goical "github.com/emersion/go-ical"

	"github.com/calfed/itipd/pkg/ical"
)

// PlanRequest is the organizer-side planner: given the before/after
// state of an event it computes and delivers one or more REQUEST/CANCEL
// messages per attendee, and records the delivery outcome on newObj.
func (e *Engine) PlanRequest(ctx context.Context, auth *AuthContext, organizer string, oldObj, newObj *ical.Object) error {
	ownerUID, err := e.outboxOwner(ctx, auth, organizer)
	if err != nil {
		return err
	}
	eff, err := e.acl.Effective(ctx, auth.User, ownerUID)
	if err != nil {
		return err
	}
	if !eff.CanScheduleSend() {
		markAllAttendees(newObj, StatusNoPrivs)
		return nil
	}

	for _, addr := range eligibleAttendees(oldObj, newObj, organizer) {
		e.planAttendee(ctx, auth, organizer, oldObj, newObj, addr)
	}
	return nil
}

// outboxOwner resolves whose Scheduling Outbox gates this send.
func (e *Engine) outboxOwner(ctx context.Context, auth *AuthContext, addr string) (string, error) {
	res, err := e.resolver.Resolve(ctx, addr, auth.User)
	if err != nil {
		return "", err
	}
	if res.User != nil {
		return res.User.UID, nil
	}
	return auth.User.UID, nil
}

// eligibleAttendees is the union of old and new attendees, minus the
// organizer and anyone not scheduled by the server.
func eligibleAttendees(oldObj, newObj *ical.Object, organizer string) []string {
	agents := make(map[string]string)
	collect := func(obj *ical.Object) {
		if obj == nil {
			return
		}
		for _, inst := range obj.Instances() {
			for _, att := range ical.Attendees(inst.Comp) {
				if _, seen := agents[att.Address]; !seen {
					agents[att.Address] = att.ScheduleAgent
				}
			}
		}
	}
	// New wins when the agent parameter changed.
	collect(newObj)
	collect(oldObj)

	var out []string
	for addr, agent := range agents {
		if ical.EqualAddress(addr, organizer) || agent != ical.AgentServer {
			continue
		}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// planAttendee runs the per-attendee dispatch of the request planner.
func (e *Engine) planAttendee(ctx context.Context, auth *AuthContext, organizer string, oldObj, newObj *ical.Object, addr string) {
	switch {
	case newObj != nil && ical.HasAttendee(newObj.Master, addr):
		e.fullUpdate(ctx, auth, organizer, oldObj, newObj, addr)
	case attendedOldMaster(oldObj, addr):
		e.fullCancel(ctx, auth, organizer, oldObj, newObj, addr)
		e.subUpdates(ctx, auth, organizer, oldObj, newObj, addr)
	default:
		e.subCancels(ctx, auth, organizer, oldObj, newObj, addr)
		e.subUpdates(ctx, auth, organizer, oldObj, newObj, addr)
	}
}

func (e *Engine) fullUpdate(ctx context.Context, auth *AuthContext, organizer string, oldObj, newObj *ical.Object, addr string) {
	var oldMaster *goical.Component
	if oldObj != nil {
		oldMaster = oldObj.Master
	}

	var attended, skipped []string
	for _, rid := range newObj.RecurrenceIDs() {
		if ical.HasAttendee(newObj.Overrides[rid], addr) {
			attended = append(attended, rid)
		} else {
			skipped = append(skipped, rid)
		}
	}

	// Side effects (SEQUENCE bump, PARTSTAT reset) land on the stored
	// object before any wire copy exists.
	outcome := ClassifyForAttendee(oldMaster, newObj.Master, addr)
	for _, rid := range attended {
		var oldComp *goical.Component
		if oldObj != nil {
			if oc, ok := oldObj.Overrides[rid]; ok {
				oldComp = oc
			} else {
				oldComp = oldObj.Master
			}
		}
		ClassifyForAttendee(oldComp, newObj.Overrides[rid], addr)
	}

	doSend := outcome != Unchanged ||
		forceSendFor(newObj.Master, addr) != "" ||
		overrideAdded(oldObj, newObj) ||
		attendeeDroppedFromOverride(oldObj, newObj, addr)
	if !doSend {
		e.subUpdates(ctx, auth, organizer, oldObj, newObj, addr)
		return
	}

	rids := append([]string{""}, attended...)
	cal, err := e.assembler.Build(ical.MethodRequest, newObj, rids, "")
	if err != nil {
		e.logger.Error().Err(err).Str("attendee", addr).Msg("REQUEST assembly failed")
		return
	}
	// Overrides the attendee is excluded from become EXDATEs on the
	// wire master.
	if master := envelopeMaster(cal, newObj.Kind); master != nil {
		for _, rid := range skipped {
			if p := newObj.Overrides[rid].Props.Get(goical.PropRecurrenceID); p != nil {
				AddExDate(master, p)
			}
		}
	}

	isUpdate := attendedOldMaster(oldObj, addr) || attendedAnyOldOverride(oldObj, addr)
	status := e.router.Deliver(ctx, &Job{
		Method:         ical.MethodRequest,
		Recipient:      addr,
		Calendar:       cal,
		Component:      newObj.Kind,
		Summary:        summaryOf(newObj),
		Originator:     organizer,
		OriginatorName: organizerName(newObj),
		ForceSend:      forceSendFor(newObj.Master, addr),
		IsUpdate:       isUpdate,
		Sender:         auth.User,
	})
	applyAttendeeStatus(newObj, addr, status, rids)
}

func (e *Engine) fullCancel(ctx context.Context, auth *AuthContext, organizer string, oldObj, newObj *ical.Object, addr string) {
	if oldObj == nil || oldObj.Master == nil {
		return
	}

	var cancelled, excluded []string
	for _, rid := range oldObj.RecurrenceIDs() {
		if !ical.HasAttendee(oldObj.Overrides[rid], addr) {
			excluded = append(excluded, rid)
			continue
		}
		if newObj == nil || !ical.HasAttendee(newObj.Overrides[rid], addr) {
			cancelled = append(cancelled, rid)
		}
	}

	rids := append([]string{""}, cancelled...)
	cal, err := e.assembler.Build(ical.MethodCancel, oldObj, rids, "")
	if err != nil {
		e.logger.Error().Err(err).Str("attendee", addr).Msg("CANCEL assembly failed")
		return
	}
	markCancelled(cal)
	if master := envelopeMaster(cal, oldObj.Kind); master != nil {
		for _, rid := range excluded {
			if p := oldObj.Overrides[rid].Props.Get(goical.PropRecurrenceID); p != nil {
				AddExDate(master, p)
			}
		}
	}

	status := e.router.Deliver(ctx, &Job{
		Method:         ical.MethodCancel,
		Recipient:      addr,
		Calendar:       cal,
		Component:      oldObj.Kind,
		Summary:        summaryOf(oldObj),
		Originator:     organizer,
		OriginatorName: organizerName(oldObj),
		ForceSend:      forceSendFor(oldObj.Master, addr),
		IsUpdate:       true,
		Sender:         auth.User,
	})
	if newObj != nil {
		applyAttendeeStatus(newObj, addr, status, []string{""})
	}
}

// subCancels cancels each old override the attendee lost without
// touching recurrences still scheduled for them.
func (e *Engine) subCancels(ctx context.Context, auth *AuthContext, organizer string, oldObj, newObj *ical.Object, addr string) {
	if oldObj == nil {
		return
	}
	for _, rid := range oldObj.RecurrenceIDs() {
		if !ical.HasAttendee(oldObj.Overrides[rid], addr) {
			continue
		}
		if newObj != nil && ical.HasAttendee(newObj.Overrides[rid], addr) {
			continue
		}
		cal, err := e.assembler.Build(ical.MethodCancel, oldObj, []string{rid}, "")
		if err != nil {
			e.logger.Error().Err(err).Str("attendee", addr).Msg("CANCEL assembly failed")
			continue
		}
		markCancelled(cal)
		status := e.router.Deliver(ctx, &Job{
			Method:         ical.MethodCancel,
			Recipient:      addr,
			Calendar:       cal,
			Component:      oldObj.Kind,
			Summary:        summaryOf(oldObj),
			Originator:     organizer,
			OriginatorName: organizerName(oldObj),
			ForceSend:      forceSendFor(oldObj.Overrides[rid], addr),
			IsUpdate:       true,
			Sender:         auth.User,
		})
		if newObj != nil {
			applyAttendeeStatus(newObj, addr, status, []string{rid})
		}
	}
}

// subUpdates sends single-override REQUESTs for new overrides the
// attendee participates in.
func (e *Engine) subUpdates(ctx context.Context, auth *AuthContext, organizer string, oldObj, newObj *ical.Object, addr string) {
	if newObj == nil {
		return
	}
	for _, rid := range newObj.RecurrenceIDs() {
		newComp := newObj.Overrides[rid]
		if !ical.HasAttendee(newComp, addr) {
			continue
		}
		var oldComp *goical.Component
		hadOverride := false
		if oldObj != nil {
			if oc, ok := oldObj.Overrides[rid]; ok {
				oldComp = oc
				hadOverride = true
			} else {
				oldComp = oldObj.Master
			}
		}
		force := forceSendFor(newComp, addr)
		outcome := ClassifyForAttendee(oldComp, newComp, addr)
		if outcome == Unchanged && force == "" {
			continue
		}

		cal, err := e.assembler.Build(ical.MethodRequest, newObj, []string{rid}, "")
		if err != nil {
			e.logger.Error().Err(err).Str("attendee", addr).Msg("REQUEST assembly failed")
			continue
		}
		isUpdate := false
		if hadOverride {
			isUpdate = ical.HasAttendee(oldComp, addr)
		} else if oldObj != nil {
			isUpdate = ical.HasAttendee(oldObj.Master, addr)
		}
		status := e.router.Deliver(ctx, &Job{
			Method:         ical.MethodRequest,
			Recipient:      addr,
			Calendar:       cal,
			Component:      newObj.Kind,
			Summary:        summaryOf(newObj),
			Originator:     organizer,
			OriginatorName: organizerName(newObj),
			ForceSend:      force,
			IsUpdate:       isUpdate,
			Sender:         auth.User,
		})
		applyAttendeeStatus(newObj, addr, status, []string{rid})
	}
}

func attendedOldMaster(oldObj *ical.Object, addr string) bool {
	return oldObj != nil && ical.HasAttendee(oldObj.Master, addr)
}

func attendedAnyOldOverride(oldObj *ical.Object, addr string) bool {
	if oldObj == nil {
		return false
	}
	for _, rid := range oldObj.RecurrenceIDs() {
		if ical.HasAttendee(oldObj.Overrides[rid], addr) {
			return true
		}
	}
	return false
}

func overrideAdded(oldObj, newObj *ical.Object) bool {
	for rid := range newObj.Overrides {
		if oldObj == nil {
			return true
		}
		if _, ok := oldObj.Overrides[rid]; !ok {
			return true
		}
	}
	return false
}

func attendeeDroppedFromOverride(oldObj, newObj *ical.Object, addr string) bool {
	if oldObj == nil {
		return false
	}
	for rid, oc := range oldObj.Overrides {
		if !ical.HasAttendee(oc, addr) {
			continue
		}
		nc, ok := newObj.Overrides[rid]
		if ok && !ical.HasAttendee(nc, addr) {
			return true
		}
	}
	return false
}

// forceSendFor reads SCHEDULE-FORCE-SEND from the attendee's property.
func forceSendFor(comp *goical.Component, addr string) string {
	if comp == nil {
		return ""
	}
	if p := ical.AttendeeProp(comp, addr); p != nil {
		return p.Params.Get(ical.ParamScheduleForceSend)
	}
	return ""
}

// envelopeMaster finds the cloned master inside an assembled envelope.
func envelopeMaster(cal *goical.Calendar, kind string) *goical.Component {
	for _, child := range cal.Children {
		if child.Name == kind && ical.RecurrenceIDValue(child) == "" {
			return child
		}
	}
	return nil
}

// markCancelled stamps STATUS:CANCELLED and a sequence bump on every
// schedulable component of a CANCEL envelope.
func markCancelled(cal *goical.Calendar) {
	for _, child := range cal.Children {
		if child.Name == goical.CompTimezone {
			continue
		}
		child.Props.SetText(goical.PropStatus, ical.StatusCancelled)
		ical.SetSequence(child, ical.Sequence(child)+1)
	}
}

// applyAttendeeStatus writes the delivery outcome on the attendee's
// property of the affected recurrences.
func applyAttendeeStatus(obj *ical.Object, addr, status string, rids []string) {
	for _, rid := range rids {
		if comp := obj.Component(rid); comp != nil {
			ical.SetScheduleStatus(comp, goical.PropAttendee, addr, status)
		}
	}
}

// markAllAttendees records one status on every attendee of every
// component; used when the outbox gate fails.
func markAllAttendees(obj *ical.Object, status string) {
	if obj == nil {
		return
	}
	for _, inst := range obj.Instances() {
		for _, att := range ical.Attendees(inst.Comp) {
			ical.SetScheduleStatus(inst.Comp, goical.PropAttendee, att.Address, status)
		}
	}
}

func organizerName(obj *ical.Object) string {
	for _, inst := range obj.Instances() {
		if p := inst.Comp.Props.Get(goical.PropOrganizer); p != nil {
			if cn := p.Params.Get(goical.ParamCommonName); cn != "" {
				return cn
			}
		}
	}
	return ""
}
