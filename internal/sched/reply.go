package sched

import (
	"context"

	goical "github.com/emersion/go-ical"

	"github.com/calfed/itipd/pkg/ical"
)

// PlanReply is the attendee-side planner: it computes REPLY messages to
// the organizer from the attendee's own participation changes and
// records the outcome on the ORGANIZER property of newObj.
func (e *Engine) PlanReply(ctx context.Context, auth *AuthContext, attendee string, oldObj, newObj *ical.Object) error {
	ownerUID, err := e.outboxOwner(ctx, auth, attendee)
	if err != nil {
		return err
	}
	eff, err := e.acl.Effective(ctx, auth.User, ownerUID)
	if err != nil {
		return err
	}
	if !eff.CanScheduleSend() {
		markOrganizer(newObj, StatusNoPrivs)
		return nil
	}

	organizer := objectOrganizer(newObj, oldObj)
	if organizer == "" {
		return nil
	}

	switch {
	case newObj != nil && ical.HasAttendee(newObj.Master, attendee):
		e.fullReply(ctx, auth, organizer, attendee, oldObj, newObj)
	case attendedOldMaster(oldObj, attendee):
		e.fullDecline(ctx, auth, organizer, attendee, oldObj, newObj)
		e.subReplies(ctx, auth, organizer, attendee, oldObj, newObj)
	default:
		e.subDeclines(ctx, auth, organizer, attendee, oldObj, newObj)
		e.subReplies(ctx, auth, organizer, attendee, oldObj, newObj)
	}
	return nil
}

func (e *Engine) fullReply(ctx context.Context, auth *AuthContext, organizer, attendee string, oldObj, newObj *ical.Object) {
	var oldMaster *goical.Component
	if oldObj != nil {
		oldMaster = oldObj.Master
	}

	force := organizerForceSend(newObj.Master)
	partStatChanged := oldMaster == nil ||
		ical.PartStat(oldMaster, attendee) != ical.PartStat(newObj.Master, attendee)
	exdateAdded := oldMaster != nil &&
		dateSetDigest(oldMaster, goical.PropExceptionDates) != dateSetDigest(newObj.Master, goical.PropExceptionDates)
	deletedOverrides := declinedOverrides(oldObj, newObj, attendee)

	if force == "" && !partStatChanged && !exdateAdded && len(deletedOverrides) == 0 {
		e.subReplies(ctx, auth, organizer, attendee, oldObj, newObj)
		return
	}

	rids := []string{""}
	for _, rid := range newObj.RecurrenceIDs() {
		if ical.HasAttendee(newObj.Overrides[rid], attendee) {
			rids = append(rids, rid)
		}
	}
	cal, err := e.assembler.Build(ical.MethodReply, newObj, rids, attendee)
	if err != nil {
		e.logger.Error().Err(err).Str("attendee", attendee).Msg("REPLY assembly failed")
		return
	}
	// Overrides the organizer dropped come back declined.
	for _, rid := range deletedOverrides {
		clone := e.assembler.WireCopy(ical.MethodReply, oldObj.Overrides[rid], attendee)
		if !isCancelled(clone) {
			ical.SetPartStat(clone, attendee, ical.PartStatDeclined)
		}
		cal.Children = append(cal.Children, clone)
	}

	status := e.deliverReply(ctx, auth, organizer, attendee, newObj, cal)
	applyOrganizerStatus(newObj, status, rids)
}

func (e *Engine) fullDecline(ctx context.Context, auth *AuthContext, organizer, attendee string, oldObj, newObj *ical.Object) {
	if oldObj == nil || oldObj.Master == nil {
		return
	}
	rids := []string{""}
	for _, rid := range oldObj.RecurrenceIDs() {
		if !ical.HasAttendee(oldObj.Overrides[rid], attendee) {
			continue
		}
		if newObj == nil || newObj.Component(rid) == nil {
			rids = append(rids, rid)
		}
	}
	cal, err := e.assembler.Build(ical.MethodReply, oldObj, rids, attendee)
	if err != nil {
		e.logger.Error().Err(err).Str("attendee", attendee).Msg("REPLY assembly failed")
		return
	}
	for _, child := range cal.Children {
		if child.Name == goical.CompTimezone || isCancelled(child) {
			continue
		}
		ical.SetPartStat(child, attendee, ical.PartStatDeclined)
	}

	status := e.deliverReply(ctx, auth, organizer, attendee, oldObj, cal)
	if newObj != nil {
		applyOrganizerStatus(newObj, status, []string{""})
	}
}

// subReplies answers per-override participation changes.
func (e *Engine) subReplies(ctx context.Context, auth *AuthContext, organizer, attendee string, oldObj, newObj *ical.Object) {
	if newObj == nil {
		return
	}
	for _, rid := range newObj.RecurrenceIDs() {
		newComp := newObj.Overrides[rid]
		if !ical.HasAttendee(newComp, attendee) {
			continue
		}
		force := organizerForceSend(newComp)
		changed := true
		if oldObj != nil {
			if oldComp, ok := oldObj.Overrides[rid]; ok {
				changed = ical.PartStat(oldComp, attendee) != ical.PartStat(newComp, attendee)
			}
		}
		if !changed && force == "" {
			continue
		}
		cal, err := e.assembler.Build(ical.MethodReply, newObj, []string{rid}, attendee)
		if err != nil {
			e.logger.Error().Err(err).Str("attendee", attendee).Msg("REPLY assembly failed")
			continue
		}
		status := e.deliverReply(ctx, auth, organizer, attendee, newObj, cal)
		applyOrganizerStatus(newObj, status, []string{rid})
	}
}

// subDeclines declines each old override the attendee no longer
// attends.
func (e *Engine) subDeclines(ctx context.Context, auth *AuthContext, organizer, attendee string, oldObj, newObj *ical.Object) {
	if oldObj == nil {
		return
	}
	for _, rid := range oldObj.RecurrenceIDs() {
		oldComp := oldObj.Overrides[rid]
		if !ical.HasAttendee(oldComp, attendee) {
			continue
		}
		if newObj != nil && ical.HasAttendee(newObj.Overrides[rid], attendee) {
			continue
		}
		cal, err := e.assembler.Build(ical.MethodReply, oldObj, []string{rid}, attendee)
		if err != nil {
			e.logger.Error().Err(err).Str("attendee", attendee).Msg("REPLY assembly failed")
			continue
		}
		for _, child := range cal.Children {
			if child.Name == goical.CompTimezone || isCancelled(child) {
				continue
			}
			ical.SetPartStat(child, attendee, ical.PartStatDeclined)
		}
		status := e.deliverReply(ctx, auth, organizer, attendee, oldObj, cal)
		if newObj != nil {
			applyOrganizerStatus(newObj, status, []string{rid})
		}
	}
}

func (e *Engine) deliverReply(ctx context.Context, auth *AuthContext, organizer, attendee string, obj *ical.Object, cal *goical.Calendar) string {
	return e.router.Deliver(ctx, &Job{
		Method:         ical.MethodReply,
		Recipient:      organizer,
		Calendar:       cal,
		Component:      obj.Kind,
		Summary:        summaryOf(obj),
		Originator:     attendee,
		OriginatorName: auth.User.DisplayName,
		ForceSend:      organizerForceSend(obj.Master),
		Sender:         auth.User,
	})
}

// declinedOverrides lists old overrides the attendee attended which the
// organizer removed entirely.
func declinedOverrides(oldObj, newObj *ical.Object, attendee string) []string {
	if oldObj == nil {
		return nil
	}
	var out []string
	for _, rid := range oldObj.RecurrenceIDs() {
		if !ical.HasAttendee(oldObj.Overrides[rid], attendee) {
			continue
		}
		if newObj.Component(rid) == nil {
			out = append(out, rid)
		}
	}
	return out
}

// organizerForceSend reads SCHEDULE-FORCE-SEND from the ORGANIZER
// property; on the attendee side the parameter lives there.
func organizerForceSend(comp *goical.Component) string {
	if comp == nil {
		return ""
	}
	if p := comp.Props.Get(goical.PropOrganizer); p != nil {
		return p.Params.Get(ical.ParamScheduleForceSend)
	}
	return ""
}

func isCancelled(comp *goical.Component) bool {
	p := comp.Props.Get(goical.PropStatus)
	return p != nil && p.Value == ical.StatusCancelled
}

func applyOrganizerStatus(obj *ical.Object, status string, rids []string) {
	for _, rid := range rids {
		comp := obj.Component(rid)
		if comp == nil {
			continue
		}
		if p := comp.Props.Get(goical.PropOrganizer); p != nil {
			ical.SetScheduleStatus(comp, goical.PropOrganizer, p.Value, status)
		}
	}
}

func markOrganizer(obj *ical.Object, status string) {
	if obj == nil {
		return
	}
	for _, inst := range obj.Instances() {
		if p := inst.Comp.Props.Get(goical.PropOrganizer); p != nil {
			ical.SetScheduleStatus(inst.Comp, goical.PropOrganizer, p.Value, status)
		}
	}
}
