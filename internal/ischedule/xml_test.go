package ischedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleResponseRoundTrip(t *testing.T) {
	in := []RecipientResponse{
		{Recipient: "mailto:bob@example.com", RequestStatus: "2.0;Success", CalendarData: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"},
		{Recipient: "mailto:ghost@example.com", RequestStatus: "3.7;Invalid calendar user"},
	}

	data, err := BuildScheduleResponse(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), Namespace)

	out, err := ParseScheduleResponse(data)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "mailto:bob@example.com", out[0].Recipient)
	assert.Equal(t, "2.0;Success", out[0].RequestStatus)
	assert.Contains(t, out[0].CalendarData, "BEGIN:VCALENDAR")
	assert.Equal(t, "3.7;Invalid calendar user", out[1].RequestStatus)
	assert.Empty(t, out[1].CalendarData)
}

// Peers may serialize with an explicit namespace prefix.
func TestParseScheduleResponsePrefixed(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<is:schedule-response xmlns:is="urn:ietf:params:xml:ns:ischedule">
  <is:response>
    <is:recipient>mailto:carol@example.com</is:recipient>
    <is:request-status>2.0;Success</is:request-status>
  </is:response>
</is:schedule-response>`

	out, err := ParseScheduleResponse([]byte(body))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "mailto:carol@example.com", out[0].Recipient)
}

func TestParseScheduleResponseBadRoot(t *testing.T) {
	_, err := ParseScheduleResponse([]byte(`<?xml version="1.0"?><multistatus/>`))
	assert.Error(t, err)
}

func TestBuildCapabilities(t *testing.T) {
	data, err := BuildCapabilities(3, false)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "<serial-number>3</serial-number>")
	assert.Contains(t, s, "<version>1.0</version>")
	assert.Contains(t, s, `name="VEVENT"`)
	assert.Contains(t, s, `name="VFREEBUSY"`)
	assert.NotContains(t, s, "VPOLL")

	data, err = BuildCapabilities(3, true)
	require.NoError(t, err)
	assert.Contains(t, string(data), `name="VPOLL"`)
}

func TestBuildError(t *testing.T) {
	data, err := BuildError(&ValidationError{
		Precondition: PreconditionRecipientMissing,
		Detail:       "missing Recipient header",
	})
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "<recipient-specified/>")
	assert.Contains(t, s, "<description>missing Recipient header</description>")
}

func TestCapabilitiesETag(t *testing.T) {
	assert.Equal(t, `"ischedule-7"`, CapabilitiesETag(7))
	assert.NotEqual(t, CapabilitiesETag(1), CapabilitiesETag(2))
}
