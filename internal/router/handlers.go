package router

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/calfed/itipd/internal/directory"
	"github.com/calfed/itipd/internal/ischedule"
	"github.com/calfed/itipd/internal/sched"
	"github.com/calfed/itipd/internal/storage"
)

// handleOutbox accepts scheduling writes on {base}/outbox/{user}:
// POST submits an updated object, DELETE on {base}/outbox/{user}/{uid}
// cancels it.
func (r *Router) handleOutbox(w http.ResponseWriter, req *http.Request, user *directory.User) {
	parts := r.pathParts(req, "outbox/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "missing outbox owner", http.StatusNotFound)
		return
	}
	owner := parts[0]
	authCtx := &sched.AuthContext{User: user}

	switch req.Method {
	case http.MethodPost:
		body, ok := r.readBody(w, req)
		if !ok {
			return
		}
		annotated, err := r.engine.SubmitOutbox(req.Context(), authCtx, owner, body)
		if err != nil {
			switch {
			case errors.Is(err, sched.ErrInvalidObject):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				r.logger.Error().Err(err).Str("owner", owner).Msg("outbox submit failed")
				http.Error(w, "scheduling failed", http.StatusInternalServerError)
			}
			return
		}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(annotated)

	case http.MethodDelete:
		if len(parts) < 2 || parts[1] == "" {
			http.Error(w, "missing object UID", http.StatusBadRequest)
			return
		}
		err := r.engine.CancelOutbox(req.Context(), authCtx, owner, parts[1])
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "no such object", http.StatusNotFound)
		case err != nil:
			r.logger.Error().Err(err).Str("owner", owner).Msg("outbox cancel failed")
			http.Error(w, "scheduling failed", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFreeBusy answers POST {base}/freebusy/{user} with a
// schedule-response document, one entry per queried attendee.
func (r *Router) handleFreeBusy(w http.ResponseWriter, req *http.Request, user *directory.User) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := r.pathParts(req, "freebusy/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "missing outbox owner", http.StatusNotFound)
		return
	}
	body, ok := r.readBody(w, req)
	if !ok {
		return
	}
	responses, err := r.engine.QueryFreeBusy(req.Context(), &sched.AuthContext{User: user}, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.writeScheduleResponse(w, responses)
}

// handleISchedule is the federation endpoint: GET serves capabilities,
// POST delivers iTIP messages from peer servers.
func (r *Router) handleISchedule(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		if req.URL.Query().Get("action") != "capabilities" {
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		etag := ischedule.CapabilitiesETag(r.config.ISchedule.SerialNumber)
		if req.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		doc, err := ischedule.BuildCapabilities(r.config.ISchedule.SerialNumber, r.config.Scheduling.EnableVPoll)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		_, _ = w.Write(doc)

	case http.MethodPost:
		r.handleInbound(w, req)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Router) handleInbound(w http.ResponseWriter, req *http.Request) {
	in, verr := ischedule.ValidateRequest(req)
	if verr != nil {
		r.scheduleError(w, verr)
		return
	}
	body, ok := r.readBody(w, req)
	if !ok {
		return
	}

	if r.config.DKIM.RequireVerify {
		sig := req.Header.Get("DKIM-Signature")
		headers := map[string]string{
			"iSchedule-Version":    req.Header.Get("iSchedule-Version"),
			"iSchedule-Message-ID": req.Header.Get("iSchedule-Message-ID"),
			"Content-Type":         req.Header.Get("Content-Type"),
			"Originator":           req.Header.Get("Originator"),
			"Recipient":            strings.Join(req.Header.Values("Recipient"), ", "),
		}
		if sig == "" {
			r.scheduleError(w, &ischedule.ValidationError{
				Precondition: ischedule.PreconditionVerificationFailed,
				Detail:       "missing DKIM-Signature",
			})
			return
		}
		if err := ischedule.Verify(headers, sig, body); err != nil {
			r.logger.Warn().Err(err).Str("originator", in.Originator).Msg("inbound DKIM verification failed")
			r.scheduleError(w, &ischedule.ValidationError{
				Precondition: ischedule.PreconditionVerificationFailed,
				Detail:       "DKIM verification failed",
			})
			return
		}
	}

	responses, err := r.engine.HandleInbound(req.Context(), in, body)
	if err != nil {
		var ve *ischedule.ValidationError
		if errors.As(err, &ve) {
			r.scheduleError(w, ve)
			return
		}
		r.logger.Error().Err(err).Str("originator", in.Originator).Msg("inbound scheduling failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	r.writeScheduleResponse(w, responses)
}

// handleDomainKey serves this node's DKIM public key so peers can
// verify without DNS.
func (r *Router) handleDomainKey(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.signer == nil {
		http.Error(w, "signing not configured", http.StatusNotFound)
		return
	}
	rest := strings.TrimPrefix(req.URL.Path, "/.well-known/domainkey/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] != r.signer.Domain() || parts[1] != r.signer.Selector() {
		http.Error(w, "unknown key", http.StatusNotFound)
		return
	}
	record, err := r.signer.TXTRecord()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(record))
}

func (r *Router) pathParts(req *http.Request, route string) []string {
	rest := strings.TrimPrefix(req.URL.Path, r.getBasePath()+route)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func (r *Router) readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(req.Body, r.config.HTTP.MaxICSBytes+1))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return nil, false
	}
	if int64(len(body)) > r.config.HTTP.MaxICSBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (r *Router) writeScheduleResponse(w http.ResponseWriter, responses []ischedule.RecipientResponse) {
	doc, err := ischedule.BuildScheduleResponse(responses)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(doc)
}

func (r *Router) scheduleError(w http.ResponseWriter, ve *ischedule.ValidationError) {
	doc, err := ischedule.BuildError(ve)
	if err != nil {
		http.Error(w, ve.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write(doc)
}
