package sched

import (
	"context"
	"errors"
	"fmt"

	goical "github.com/emersion/go-ical"
	"github.com/rs/zerolog"

	"github.com/calfed/itipd/internal/acl"
	"github.com/calfed/itipd/internal/config"
	"github.com/calfed/itipd/internal/directory"
	"github.com/calfed/itipd/internal/storage"
	"github.com/calfed/itipd/pkg/ical"
)

// AuthContext carries the authenticated identity through every entry
// point; there is no ambient process identity.
type AuthContext struct {
	User *directory.User
}

// Engine wires the planners, assembler and delivery router together.
// One Engine serves the whole process.
type Engine struct {
	cfg       *config.Config
	store     storage.Store
	dir       directory.Directory
	resolver  *Resolver
	acl       acl.Provider
	assembler *Assembler
	router    *Router
	logger    zerolog.Logger
}

func NewEngine(
	cfg *config.Config,
	store storage.Store,
	dir directory.Directory,
	aclProvider acl.Provider,
	imipTransport IMIPTransport,
	ischedTransport IScheduleTransport,
	prodID string,
	logger zerolog.Logger,
) *Engine {
	resolver := NewResolver(cfg, dir)
	assembler := NewAssembler(prodID, cfg.Scheduling.EnableVPoll)
	e := &Engine{
		cfg:       cfg,
		store:     store,
		dir:       dir,
		resolver:  resolver,
		acl:       aclProvider,
		assembler: assembler,
		logger:    logger,
	}
	e.router = &Router{
		resolver:  resolver,
		acl:       aclProvider,
		store:     store,
		assembler: assembler,
		imip:      imipTransport,
		isched:    ischedTransport,
		logger:    logger,
	}
	e.router.onReplyMerged = e.replyMerged
	return e
}

// ProcessWrite is the entry point for a calendar object mutation.
// oldData is nil on create, newData nil on delete. The acting user's
// role (organizer or attendee) picks the planner. The returned bytes
// are the new object with delivery outcomes annotated, nil on delete.
func (e *Engine) ProcessWrite(ctx context.Context, auth *AuthContext, oldData, newData []byte) ([]byte, error) {
	if auth == nil || auth.User == nil {
		return nil, errors.New("scheduling requires an authenticated user")
	}

	var oldObj, newObj *ical.Object
	var err error
	if len(oldData) > 0 {
		if oldObj, err = ical.ParseObject(oldData); err != nil {
			return nil, fmt.Errorf("invalid stored calendar object: %w", err)
		}
	}
	if len(newData) > 0 {
		if newObj, err = ical.ParseObject(newData); err != nil {
			return nil, fmt.Errorf("invalid calendar object: %w", err)
		}
	}
	if oldObj == nil && newObj == nil {
		return nil, errors.New("nothing to schedule")
	}

	organizer := objectOrganizer(newObj, oldObj)
	if organizer == "" {
		// Unscheduled object, nothing to plan.
		return newData, nil
	}

	switch {
	case isOwnAddress(auth.User, organizer):
		err = e.PlanRequest(ctx, auth, organizer, oldObj, newObj)
	default:
		if addr := actingAttendee(auth.User, newObj, oldObj); addr != "" {
			err = e.PlanReply(ctx, auth, addr, oldObj, newObj)
		} else {
			e.logger.Debug().
				Str("user", auth.User.UID).
				Str("organizer", organizer).
				Msg("writer is neither organizer nor attendee, skipping scheduling")
		}
	}
	if err != nil {
		return nil, err
	}
	if newObj == nil {
		return nil, nil
	}
	return ical.EncodeCalendar(newObj.Calendar(e.assembler.ProdID))
}

func objectOrganizer(objs ...*ical.Object) string {
	for _, o := range objs {
		if o == nil {
			continue
		}
		if org := o.Organizer(); org != "" {
			return org
		}
	}
	return ""
}

func isOwnAddress(user *directory.User, addr string) bool {
	for _, own := range user.Addresses() {
		if ical.EqualAddress(own, addr) {
			return true
		}
	}
	return false
}

// actingAttendee finds which of the user's addresses appears as an
// ATTENDEE on the object.
func actingAttendee(user *directory.User, objs ...*ical.Object) string {
	for _, o := range objs {
		if o == nil {
			continue
		}
		for _, inst := range o.Instances() {
			for _, att := range ical.Attendees(inst.Comp) {
				if isOwnAddress(user, att.Address) {
					return att.Address
				}
			}
		}
	}
	return ""
}

// replyMerged is invoked by the router after a reply landed in a local
// organizer's calendar, so the other attendees see the updated
// participation state.
func (e *Engine) replyMerged(ctx context.Context, organizerUser *directory.User, oldObj, newObj *ical.Object) {
	organizer := newObj.Organizer()
	auth := &AuthContext{User: organizerUser}
	if newObj.Kind == ical.CompPoll {
		if err := e.sendPollStatus(ctx, auth, organizer, newObj); err != nil {
			e.logger.Error().Err(err).Str("uid", newObj.UID).Msg("POLLSTATUS fan-out failed")
		}
		return
	}
	if err := e.PlanRequest(ctx, auth, organizer, oldObj, newObj); err != nil {
		e.logger.Error().Err(err).Str("uid", newObj.UID).Msg("organizer-side update after reply failed")
	}
}

// sendPollStatus fans the updated VPOLL voter state out to every voter.
func (e *Engine) sendPollStatus(ctx context.Context, auth *AuthContext, organizer string, obj *ical.Object) error {
	if !e.cfg.Scheduling.EnableVPoll {
		return nil
	}
	cal, err := e.assembler.Build(ical.MethodPollStatus, obj, []string{""}, "")
	if err != nil {
		return err
	}
	for _, att := range ical.Attendees(obj.Master) {
		if ical.EqualAddress(att.Address, organizer) || att.ScheduleAgent != ical.AgentServer {
			continue
		}
		status := e.router.Deliver(ctx, &Job{
			Method:     ical.MethodPollStatus,
			Recipient:  att.Address,
			Calendar:   cal,
			Component:  obj.Kind,
			Summary:    summaryOf(obj),
			Originator: organizer,
			Sender:     auth.User,
		})
		ical.SetScheduleStatus(obj.Master, goical.PropAttendee, att.Address, status)
	}
	return nil
}

func summaryOf(obj *ical.Object) string {
	for _, inst := range obj.Instances() {
		if p := inst.Comp.Props.Get(goical.PropSummary); p != nil {
			return p.Value
		}
	}
	return ""
}
