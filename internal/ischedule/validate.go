package ischedule

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// Precondition codes returned with HTTP 400 on invalid inbound
// requests.
const (
	PreconditionVersion            = "valid-ischedule-version"
	PreconditionOriginatorMissing  = "originator-specified"
	PreconditionOriginatorMultiple = "single-originator"
	PreconditionRecipientMissing   = "recipient-specified"
	PreconditionUnsupportedData    = "valid-calendar-data"
	PreconditionInvalidSchedObject = "valid-scheduling-message"
	PreconditionVerificationFailed = "verification-failed"
)

// ValidationError carries the precondition name surfaced in the HTTP
// 400 body.
type ValidationError struct {
	Precondition string
	Detail       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Precondition, e.Detail)
}

// Inbound is a validated inbound iSchedule POST.
type Inbound struct {
	Originator string
	Recipients []string
	Method     string
	Component  string
	MessageID  string
}

// ValidateRequest checks the iSchedule headers of an inbound POST. The
// body is validated separately after parsing.
func ValidateRequest(r *http.Request) (*Inbound, *ValidationError) {
	if v := r.Header.Get("iSchedule-Version"); v != "1.0" {
		return nil, &ValidationError{PreconditionVersion, fmt.Sprintf("unsupported version %q", v)}
	}

	originators := r.Header.Values("Originator")
	if len(originators) == 0 {
		return nil, &ValidationError{PreconditionOriginatorMissing, "missing Originator header"}
	}
	if len(originators) > 1 {
		return nil, &ValidationError{PreconditionOriginatorMultiple, "multiple Originator headers"}
	}

	var recipients []string
	for _, h := range r.Header.Values("Recipient") {
		for _, part := range strings.Split(h, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				recipients = append(recipients, stripMailto(part))
			}
		}
	}
	if len(recipients) == 0 {
		return nil, &ValidationError{PreconditionRecipientMissing, "missing Recipient header"}
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/calendar" {
		return nil, &ValidationError{PreconditionUnsupportedData, "content type must be text/calendar"}
	}
	method := strings.ToUpper(params["method"])
	if method == "" {
		return nil, &ValidationError{PreconditionInvalidSchedObject, "content type carries no method parameter"}
	}

	return &Inbound{
		Originator: stripMailto(originators[0]),
		Recipients: recipients,
		Method:     method,
		Component:  strings.ToUpper(params["component"]),
		MessageID:  r.Header.Get("iSchedule-Message-ID"),
	}, nil
}

func stripMailto(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 7 && strings.EqualFold(s[:7], "mailto:") {
		s = s[7:]
	}
	return strings.ToLower(s)
}
