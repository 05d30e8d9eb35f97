package sched

import (
	"context"
	"errors"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/rs/zerolog"

	"github.com/calfed/itipd/internal/acl"
	"github.com/calfed/itipd/internal/directory"
	"github.com/calfed/itipd/internal/imip"
	"github.com/calfed/itipd/internal/ischedule"
	"github.com/calfed/itipd/internal/storage"
	"github.com/calfed/itipd/pkg/ical"
)

// IMIPTransport sends an iTIP message to an external user over mail.
type IMIPTransport interface {
	Send(ctx context.Context, msg *imip.Message) error
}

// IScheduleTransport posts an iTIP message to a cluster peer.
type IScheduleTransport interface {
	Submit(ctx context.Context, req *ischedule.Request) ([]ischedule.RecipientResponse, error)
}

// Job is one iTIP message bound for one recipient.
type Job struct {
	Method         string
	Recipient      string
	Calendar       *goical.Calendar
	Component      string
	Summary        string
	Originator     string
	OriginatorName string
	// ForceSend carries the SCHEDULE-FORCE-SEND value of the property
	// that triggered this delivery.
	ForceSend string
	IsUpdate  bool
	// Sender is the acting local user; nil on inbound federation paths.
	Sender *directory.User
}

// Router implements per-recipient delivery: local inbox merge, iMIP,
// or iSchedule, returning the schedule status code to record on the
// source object.
type Router struct {
	resolver  *Resolver
	acl       acl.Provider
	store     storage.Store
	assembler *Assembler
	imip      IMIPTransport
	isched    IScheduleTransport
	logger    zerolog.Logger

	onReplyMerged func(ctx context.Context, organizerUser *directory.User, oldObj, newObj *ical.Object)
}

// Deliver routes one job and returns its schedule status code. It never
// returns an error: every failure maps to a code.
func (r *Router) Deliver(ctx context.Context, job *Job) string {
	if !forceSendLegal(job.ForceSend, job.Method) {
		return StatusInvalidParam
	}

	res, err := r.resolver.Resolve(ctx, job.Recipient, job.Sender)
	if err != nil {
		if errors.Is(err, ErrNoUser) {
			return StatusNoUser
		}
		r.logger.Error().Err(err).Str("recipient", job.Recipient).Msg("recipient resolution failed")
		return StatusTempFail
	}

	switch res.Kind {
	case KindSelf:
		return StatusSuccess
	case KindLocal:
		return r.deliverLocal(ctx, job, res)
	case KindClusterRemote:
		return r.deliverISchedule(ctx, job, res)
	default:
		return r.deliverIMIP(ctx, job)
	}
}

// forceSendLegal checks the SCHEDULE-FORCE-SEND value against the
// method it is attached to.
func forceSendLegal(forceSend, method string) bool {
	switch strings.ToUpper(forceSend) {
	case "", "NONE":
		return true
	case ical.MethodReply:
		return method == ical.MethodReply
	case ical.MethodRequest:
		return method == ical.MethodRequest
	default:
		return false
	}
}

func (r *Router) deliverLocal(ctx context.Context, job *Job, res *Resolution) string {
	if !r.senderMayDeliver(ctx, job, res.User.UID) {
		return StatusNoPrivs
	}

	incoming, err := ical.ObjectFromCalendar(job.Calendar)
	if err != nil {
		r.logger.Error().Err(err).Str("recipient", job.Recipient).Msg("malformed iTIP envelope")
		return StatusRejected
	}

	stored, err := r.store.FindObjectByUID(ctx, res.User.UID, incoming.UID)
	if errors.Is(err, storage.ErrNotFound) {
		return r.deliverLocalNew(ctx, job, res, incoming)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("recipient", job.Recipient).Msg("calendar lookup failed")
		return StatusTempFail
	}

	if !strings.EqualFold(stored.Component, incoming.Kind) {
		return StatusRejected
	}

	var oldObj, newObj *ical.Object
	deliverToInbox := false
	err = r.store.UpdateObject(ctx, stored.CalendarID, incoming.UID, func(obj *storage.Object) error {
		cur, err := ical.ParseObject([]byte(obj.Data))
		if err != nil {
			return err
		}
		if org := cur.Organizer(); org != "" && !ical.EqualAddress(org, incoming.Organizer()) {
			return errOrganizerChanged
		}
		oldObj, err = ical.ParseObject([]byte(obj.Data))
		if err != nil {
			return err
		}

		switch job.Method {
		case ical.MethodCancel:
			mergeCancel(cur, incoming)
		case ical.MethodReply:
			mergeReply(cur, incoming, job.Originator)
		case ical.MethodRequest:
			deliverToInbox = mergeRequest(cur, incoming)
		case ical.MethodPollStatus:
			mergePollStatus(cur, incoming)
		default:
			return errUnknownMethod
		}

		data, err := ical.EncodeCalendar(cur.Calendar(""))
		if err != nil {
			return err
		}
		obj.Data = string(data)
		setObjectWindow(obj, cur)
		newObj = cur
		return nil
	})
	if errors.Is(err, errOrganizerChanged) {
		return StatusRejected
	}
	if err != nil {
		r.logger.Error().Err(err).
			Str("recipient", job.Recipient).
			Str("method", job.Method).
			Msg("local merge failed")
		return StatusTempFail
	}

	if deliverToInbox || job.Method == ical.MethodReply {
		r.writeInbox(ctx, job, res, incoming.UID)
	}

	if job.Method == ical.MethodReply {
		if r.onReplyMerged != nil && newObj != nil {
			r.onReplyMerged(ctx, res.User, oldObj, newObj)
		}
		return StatusSuccess
	}
	return StatusDelivered
}

var (
	errOrganizerChanged = errors.New("organizer change rejected")
	errUnknownMethod    = errors.New("unknown iTIP method")
)

// deliverLocalNew handles the no-stored-object cases.
func (r *Router) deliverLocalNew(ctx context.Context, job *Job, res *Resolution, incoming *ical.Object) string {
	switch job.Method {
	case ical.MethodReply:
		// A reply to an event the organizer no longer has is dropped.
		return StatusPermFail
	case ical.MethodCancel, ical.MethodPollStatus:
		return StatusSuccess
	}

	calendarID, err := r.defaultCalendar(ctx, res.User.UID)
	if err != nil {
		r.logger.Error().Err(err).Str("recipient", job.Recipient).Msg("no deliverable calendar")
		return StatusRejected
	}

	stored := stripMethod(job.Calendar)
	data, err := ical.EncodeCalendar(stored)
	if err != nil {
		return StatusTempFail
	}
	obj := &storage.Object{
		CalendarID: calendarID,
		UID:        incoming.UID,
		Data:       string(data),
		Component:  incoming.Kind,
	}
	setObjectWindow(obj, incoming)
	if err := r.store.PutObject(ctx, obj); err != nil {
		r.logger.Error().Err(err).Str("recipient", job.Recipient).Msg("calendar write failed")
		return StatusTempFail
	}

	r.writeInbox(ctx, job, res, incoming.UID)
	return StatusDelivered
}

func (r *Router) senderMayDeliver(ctx context.Context, job *Job, ownerUID string) bool {
	if job.Sender == nil {
		// Inbound federation: RFC 6638 default inbox grants apply.
		return true
	}
	eff, err := r.acl.Effective(ctx, job.Sender, ownerUID)
	if err != nil {
		r.logger.Error().Err(err).Str("owner", ownerUID).Msg("ACL evaluation failed")
		return false
	}
	return eff.CanDeliver(job.Method)
}

func (r *Router) defaultCalendar(ctx context.Context, ownerUID string) (string, error) {
	if id, err := r.store.DefaultCalendar(ctx, ownerUID); err == nil && id != "" {
		return id, nil
	}
	cals, err := r.store.ListCalendarsByOwner(ctx, ownerUID)
	if err != nil {
		return "", err
	}
	if len(cals) == 0 {
		return "", errors.New("user has no calendars")
	}
	return cals[0].ID, nil
}

func (r *Router) writeInbox(ctx context.Context, job *Job, res *Resolution, uid string) {
	data, err := ical.EncodeCalendar(job.Calendar)
	if err != nil {
		r.logger.Error().Err(err).Str("uid", uid).Msg("inbox envelope encoding failed")
		return
	}
	msg := &storage.InboxMessage{
		OwnerUID:   res.User.UID,
		UID:        uid,
		Method:     job.Method,
		Originator: job.Originator,
		Recipient:  job.Recipient,
		Data:       string(data),
	}
	// Inbox write failures are reported but never undo the calendar
	// merge.
	if err := r.store.PutInboxMessage(ctx, msg); err != nil {
		r.logger.Error().Err(err).
			Str("recipient", job.Recipient).
			Str("uid", uid).
			Msg("inbox write failed")
	}
}

func (r *Router) deliverIMIP(ctx context.Context, job *Job) string {
	data, err := ical.EncodeCalendar(job.Calendar)
	if err != nil {
		return StatusTempFail
	}
	obj, err := ical.ObjectFromCalendar(job.Calendar)
	if err != nil {
		return StatusTempFail
	}
	err = r.imip.Send(ctx, &imip.Message{
		Recipient:      job.Recipient,
		Recipients:     envelopeAttendees(obj, job.Originator),
		Originator:     job.Originator,
		OriginatorName: job.OriginatorName,
		Summary:        job.Summary,
		Method:         job.Method,
		Component:      job.Component,
		UID:            obj.UID,
		ICalData:       data,
		IsUpdate:       job.IsUpdate,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("recipient", job.Recipient).Msg("iMIP delivery failed")
		return StatusTempFail
	}
	return StatusSent
}

func (r *Router) deliverISchedule(ctx context.Context, job *Job, res *Resolution) string {
	data, err := ical.EncodeCalendar(job.Calendar)
	if err != nil {
		return StatusTempFail
	}
	responses, err := r.isched.Submit(ctx, &ischedule.Request{
		Server:     res.Server,
		Port:       res.Port,
		Originator: job.Originator,
		Recipients: []string{job.Recipient},
		Method:     job.Method,
		Component:  job.Component,
		ICalData:   data,
	})
	if err != nil {
		r.logger.Error().Err(err).
			Str("recipient", job.Recipient).
			Str("server", res.Server).
			Msg("iSchedule delivery failed")
		return StatusTempFail
	}
	for _, resp := range responses {
		if !ical.EqualAddress(resp.Recipient, job.Recipient) {
			continue
		}
		code := statusCodeOf(resp.RequestStatus)
		if StatusClass(code) == '2' {
			return StatusDelivered
		}
		return code
	}
	return StatusTempFail
}

// envelopeAttendees lists every distinct attendee of the envelope,
// minus the originator, in first-seen order.
func envelopeAttendees(obj *ical.Object, originator string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range obj.Instances() {
		for _, att := range ical.Attendees(inst.Comp) {
			key := ical.NormalizeAddress(att.Address)
			if seen[key] || ical.EqualAddress(att.Address, originator) {
				continue
			}
			seen[key] = true
			out = append(out, att.Address)
		}
	}
	return out
}

// statusCodeOf strips the description from a REQUEST-STATUS value.
func statusCodeOf(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func stripMethod(cal *goical.Calendar) *goical.Calendar {
	out := &goical.Calendar{Component: &goical.Component{
		Name:  cal.Name,
		Props: make(goical.Props, len(cal.Props)),
	}}
	for name, props := range cal.Props {
		if name == goical.PropMethod {
			continue
		}
		cp := make([]goical.Prop, len(props))
		copy(cp, props)
		out.Props[name] = cp
	}
	out.Children = cal.Children
	return out
}

func setObjectWindow(obj *storage.Object, cur *ical.Object) {
	comp := cur.Master
	if comp == nil {
		for _, inst := range cur.Instances() {
			comp = inst.Comp
			break
		}
	}
	if comp == nil {
		return
	}
	iv, err := ical.ComponentInterval(comp, time.UTC)
	if err != nil {
		return
	}
	start := iv.S
	obj.StartAt = &start
	if comp.Props.Get(goical.PropRecurrenceRule) != nil {
		// Open-ended recurring objects keep a nil end.
		obj.EndAt = nil
		return
	}
	end := iv.E
	obj.EndAt = &end
}
