package sched

import (
	goical "github.com/emersion/go-ical"

	"github.com/calfed/itipd/pkg/ical"
)

// mergeCancel marks every component named by the cancel as cancelled.
// A cancel carrying the master cancels the whole series.
func mergeCancel(stored, incoming *ical.Object) {
	targets := stored.Instances()
	if incoming.Master == nil {
		targets = nil
		for _, rid := range incoming.RecurrenceIDs() {
			if comp := stored.Component(rid); comp != nil {
				targets = append(targets, ical.Instance{RecurrenceID: rid, Comp: comp})
			}
		}
	}
	for _, inst := range targets {
		inst.Comp.Props.SetText(goical.PropStatus, ical.StatusCancelled)
		ical.SetSequence(inst.Comp, ical.Sequence(inst.Comp)+1)
	}
}

// mergeReply folds one attendee's reply into the organizer's stored
// object. Only the replier's own ATTENDEE record may change; a reply
// naming an unmaterialized recurrence creates the override.
func mergeReply(stored, incoming *ical.Object, replier string) {
	for _, inst := range incoming.Instances() {
		target := stored.Component(inst.RecurrenceID)
		if target == nil {
			if stored.Master == nil {
				continue
			}
			target = materializeOverride(stored, inst)
		}

		att := ical.AttendeeProp(target, replier)
		if att == nil {
			// A replier may appear first on a freshly materialized
			// override.
			src := ical.AttendeeProp(inst.Comp, replier)
			if src == nil {
				continue
			}
			cp := ical.CloneProp(src)
			target.Props.Add(&cp)
			att = ical.AttendeeProp(target, replier)
		}

		replyAtt := ical.AttendeeProp(inst.Comp, replier)
		if replyAtt == nil {
			continue
		}
		if att.Params == nil {
			att.Params = make(goical.Params)
		}
		if ps := replyAtt.Params.Get(goical.ParamParticipationStatus); ps != "" {
			att.Params.Set(goical.ParamParticipationStatus, ps)
		}
		if rsvp := replyAtt.Params.Get(goical.ParamRSVP); rsvp != "" {
			att.Params.Set(goical.ParamRSVP, rsvp)
		} else {
			att.Params.Del(goical.ParamRSVP)
		}
		if rs := inst.Comp.Props.Get(goical.PropRequestStatus); rs != nil {
			att.Params.Set(ical.ParamScheduleStatus, statusCodeOf(rs.Value))
		} else {
			att.Params.Set(ical.ParamScheduleStatus, StatusSuccess)
		}

		if target.Name == ical.CompPoll {
			mergeVoterReply(target, inst.Comp, replier)
		}
	}
}

// materializeOverride clones the master into a new override for the
// recurrence a reply addressed.
func materializeOverride(stored *ical.Object, inst ical.Instance) *goical.Component {
	override := ical.CloneComponent(stored.Master)
	if rid := inst.Comp.Props.Get(goical.PropRecurrenceID); rid != nil {
		cp := ical.CloneProp(rid)
		override.Props.Set(&cp)
	}
	override.Props.Del(goical.PropRecurrenceRule)
	override.Props.Del(goical.PropRecurrenceDates)
	override.Props.Del(goical.PropExceptionDates)
	for _, name := range []string{goical.PropDateTimeStart, goical.PropDateTimeEnd, goical.PropSequence} {
		if p := inst.Comp.Props.Get(name); p != nil {
			cp := ical.CloneProp(p)
			override.Props.Set(&cp)
		}
	}
	stored.Overrides[ical.RecurrenceIDValue(override)] = override
	return override
}

// mergeRequest replaces stored components with the organizer's updated
// copies, preserving the recipient's locally owned properties. The
// returned flag requests an inbox copy when something actually changed.
func mergeRequest(stored, incoming *ical.Object) bool {
	for tzid, tz := range incoming.Timezones {
		stored.Timezones[tzid] = tz
	}

	deliverToInbox := false
	for _, inst := range incoming.Instances() {
		replacement := ical.CloneComponent(inst.Comp)
		target := stored.Component(inst.RecurrenceID)
		if target == nil {
			deliverToInbox = true
		} else {
			if ical.Sequence(inst.Comp) > ical.Sequence(target) {
				deliverToInbox = true
			}
			copyLocalProps(target, replacement)
		}
		if inst.RecurrenceID == "" {
			stored.Master = replacement
		} else {
			stored.Overrides[inst.RecurrenceID] = replacement
		}
	}
	return deliverToInbox
}

// Properties the recipient owns; an update from the organizer must not
// clobber them.
var localProps = []string{
	goical.PropCompleted,
	goical.PropPercentComplete,
	goical.PropTransparency,
}

func copyLocalProps(stored, replacement *goical.Component) {
	for _, name := range localProps {
		replacement.Props.Del(name)
		for _, p := range stored.Props.Values(name) {
			cp := ical.CloneProp(&p)
			replacement.Props.Add(&cp)
		}
	}
	if old := stored.Props.Get(goical.PropOrganizer); old != nil {
		if st := old.Params.Get(ical.ParamScheduleStatus); st != "" {
			if org := replacement.Props.Get(goical.PropOrganizer); org != nil {
				if org.Params == nil {
					org.Params = make(goical.Params)
				}
				org.Params.Set(ical.ParamScheduleStatus, st)
				replacement.Props.Set(org)
			}
		}
	}
}

// mergePollStatus replaces the stored VPOLL's voter state wholesale.
func mergePollStatus(stored, incoming *ical.Object) {
	target, source := stored.Master, incoming.Master
	if target == nil || source == nil {
		return
	}
	var kept []*goical.Component
	for _, child := range target.Children {
		if child.Name != ical.CompVoter {
			kept = append(kept, child)
		}
	}
	for _, child := range source.Children {
		if child.Name == ical.CompVoter {
			kept = append(kept, ical.CloneComponent(child))
		}
	}
	target.Children = kept
}

// mergeVoterReply copies the replier's VVOTER ballot into the stored
// poll.
func mergeVoterReply(target, reply *goical.Component, replier string) {
	var incomingBallot *goical.Component
	for _, child := range reply.Children {
		if child.Name != ical.CompVoter {
			continue
		}
		if p := child.Props.Get("VOTER"); p != nil && ical.EqualAddress(p.Value, replier) {
			incomingBallot = child
			break
		}
	}
	if incomingBallot == nil {
		return
	}
	for i, child := range target.Children {
		if child.Name != ical.CompVoter {
			continue
		}
		if p := child.Props.Get("VOTER"); p != nil && ical.EqualAddress(p.Value, replier) {
			target.Children[i] = ical.CloneComponent(incomingBallot)
			return
		}
	}
	target.Children = append(target.Children, ical.CloneComponent(incomingBallot))
}
