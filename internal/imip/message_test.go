package imip

import (
	"bytes"
	"io"
	"testing"

	"github.com/emersion/go-message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *Message {
	return &Message{
		Recipient:      "dan@external.org",
		Recipients:     []string{"bob@example.com", "dan@external.org"},
		Originator:     "alice@example.com",
		OriginatorName: "Alice",
		Summary:        "Planning",
		Method:         "REQUEST",
		Component:      "VEVENT",
		UID:            "evt-1",
		ICalData:       []byte("BEGIN:VCALENDAR\r\nMETHOD:REQUEST\r\nEND:VCALENDAR\r\n"),
	}
}

func TestSubjectFallback(t *testing.T) {
	msg := testMessage()
	assert.Equal(t, "Planning", msg.Subject())

	msg.Summary = ""
	assert.Equal(t, "VEVENT REQUEST", msg.Subject())
}

func TestBuildMIME(t *testing.T) {
	raw, err := BuildMIME(testMessage(), "node-a")
	require.NoError(t, err)

	entity, err := message.Read(bytes.NewReader(raw))
	require.NoError(t, err)

	mediaType, _, err := entity.Header.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)
	assert.Equal(t, "auto-generated", entity.Header.Get("Auto-Submitted"))
	assert.Contains(t, entity.Header.Get("From"), "alice@example.com")
	assert.Contains(t, entity.Header.Get("Subject"), "Planning")
	assert.Equal(t, "<evt-1@node-a>", entity.Header.Get("Imip-Content-Id"))

	// To carries the other attendees, never the primary recipient.
	assert.Contains(t, entity.Header.Get("To"), "bob@example.com")
	assert.NotContains(t, entity.Header.Get("To"), "dan@external.org")

	mr := entity.MultipartReader()
	require.NotNil(t, mr)

	var types []string
	var calParams map[string]string
	var calBody []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		pt, params, err := part.Header.ContentType()
		require.NoError(t, err)
		types = append(types, pt)
		if pt == "text/calendar" {
			calParams = params
			calBody, err = io.ReadAll(part.Body)
			require.NoError(t, err)
		}
	}

	// text/calendar last so it wins in alternative rendering.
	assert.Equal(t, []string{"text/plain", "text/html", "text/calendar"}, types)
	assert.Equal(t, "REQUEST", calParams["method"])
	assert.Equal(t, "VEVENT", calParams["component"])
	assert.Contains(t, string(calBody), "METHOD:REQUEST")
}

func TestBuildMIMESingleRecipient(t *testing.T) {
	msg := testMessage()
	msg.Recipients = []string{"dan@external.org"}

	raw, err := BuildMIME(msg, "node-a")
	require.NoError(t, err)
	entity, err := message.Read(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, entity.Header.Get("To"), "dan@external.org")
}

func TestRenderText(t *testing.T) {
	msg := testMessage()
	assert.Contains(t, renderText(msg), `Alice has invited you to "Planning"`)

	msg.IsUpdate = true
	assert.Contains(t, renderText(msg), "has updated")

	msg.Method = "CANCEL"
	assert.Contains(t, renderText(msg), "has cancelled")

	msg.Method = "REPLY"
	msg.OriginatorName = ""
	assert.Contains(t, renderText(msg), "alice@example.com has replied about")
}

func TestRenderHTMLEscapes(t *testing.T) {
	msg := testMessage()
	msg.Summary = "Q3 <kickoff> & sync"
	html := renderHTML(msg)
	assert.Contains(t, html, "&lt;kickoff&gt; &amp; sync")
	assert.NotContains(t, html, "<kickoff>")
}
