package sched

import (
	"context"

	goical "github.com/emersion/go-ical"

	"github.com/calfed/itipd/internal/ischedule"
	"github.com/calfed/itipd/pkg/ical"
)

// HandleInbound processes an iTIP message that arrived from a peer
// server over iSchedule, producing one response per named recipient.
func (e *Engine) HandleInbound(ctx context.Context, in *ischedule.Inbound, calData []byte) ([]ischedule.RecipientResponse, error) {
	if in.Component == goical.CompFreeBusy && in.Method == ical.MethodRequest {
		return e.QueryFreeBusy(ctx, nil, calData)
	}

	cal, err := ical.DecodeCalendar(calData)
	if err != nil {
		return nil, &ischedule.ValidationError{
			Precondition: ischedule.PreconditionUnsupportedData,
			Detail:       err.Error(),
		}
	}
	obj, err := ical.ObjectFromCalendar(cal)
	if err != nil {
		return nil, &ischedule.ValidationError{
			Precondition: ischedule.PreconditionInvalidSchedObject,
			Detail:       err.Error(),
		}
	}

	switch in.Method {
	case ical.MethodRequest, ical.MethodReply, ical.MethodCancel, ical.MethodPollStatus:
	default:
		return nil, &ischedule.ValidationError{
			Precondition: ischedule.PreconditionInvalidSchedObject,
			Detail:       "unsupported iTIP method " + in.Method,
		}
	}

	out := make([]ischedule.RecipientResponse, 0, len(in.Recipients))
	for _, recipient := range in.Recipients {
		status := e.router.Deliver(ctx, &Job{
			Method:     in.Method,
			Recipient:  recipient,
			Calendar:   cal,
			Component:  obj.Kind,
			Summary:    summaryOf(obj),
			Originator: in.Originator,
		})
		out = append(out, ischedule.RecipientResponse{
			Recipient:     "mailto:" + ical.NormalizeAddress(recipient),
			RequestStatus: RequestStatus(status),
		})
	}
	return out, nil
}
