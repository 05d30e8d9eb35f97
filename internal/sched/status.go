package sched

// Schedule status codes (RFC 6638 / RFC 5546 REQUEST-STATUS classes)
// recorded on ATTENDEE and ORGANIZER properties and in schedule-response
// documents.
const (
	StatusPending      = "1.0"
	StatusSent         = "1.1"
	StatusDelivered    = "1.2"
	StatusSuccess      = "2.0"
	StatusInvalidParam = "2.3"
	StatusNoUser       = "3.7"
	StatusNoPrivs      = "3.8"
	StatusTempFail     = "5.1"
	StatusPermFail     = "5.2"
	StatusRejected     = "5.3"
)

var statusText = map[string]string{
	StatusPending:      "Pending",
	StatusSent:         "Sent",
	StatusDelivered:    "Delivered",
	StatusSuccess:      "Success",
	StatusInvalidParam: "Invalid property parameter value",
	StatusNoUser:       "Invalid calendar user",
	StatusNoPrivs:      "No scheduling support for user",
	StatusTempFail:     "Service unavailable",
	StatusPermFail:     "Invalid calendar data",
	StatusRejected:     "Rejected",
}

// RequestStatus renders a code as a REQUEST-STATUS value with its
// standard description.
func RequestStatus(code string) string {
	if txt, ok := statusText[code]; ok {
		return code + ";" + txt
	}
	return code
}

// StatusClass returns the leading digit of a status code.
func StatusClass(code string) byte {
	if code == "" {
		return 0
	}
	return code[0]
}
