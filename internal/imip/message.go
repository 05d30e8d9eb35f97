package imip

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Message is one outbound iMIP notification.
type Message struct {
	Recipient      string   // primary recipient address
	Recipients     []string // every attendee of the envelope
	Originator     string   // organizer (or replying attendee) address
	OriginatorName string
	Summary        string
	Method         string
	Component      string // VEVENT, VTODO, VPOLL
	UID            string
	ICalData       []byte
	IsUpdate       bool
}

// toList is the recipient list minus the primary, so the primary sees
// who else was notified; a primary-only message addresses the primary.
func (m *Message) toList() []*mail.Address {
	var out []*mail.Address
	for _, addr := range m.Recipients {
		if strings.EqualFold(addr, m.Recipient) {
			continue
		}
		out = append(out, &mail.Address{Address: addr})
	}
	if len(out) == 0 {
		out = append(out, &mail.Address{Address: m.Recipient})
	}
	return out
}

// Subject falls back to "<component> <method>" when the event has no
// SUMMARY.
func (m *Message) Subject() string {
	if m.Summary != "" {
		return m.Summary
	}
	return m.Component + " " + m.Method
}

// BuildMIME renders the message as multipart/alternative with
// text/plain, text/html and text/calendar parts, in that order.
func BuildMIME(msg *Message, serverName string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject())
	h.SetAddressList("From", []*mail.Address{{Name: msg.OriginatorName, Address: msg.Originator}})
	h.SetAddressList("To", msg.toList())
	h.Set("Message-Id", fmt.Sprintf("<itipd-%d-%d@%s>", os.Getpid(), time.Now().UnixNano(), serverName))
	h.Set("iMIP-Content-ID", fmt.Sprintf("<%s@%s>", msg.UID, serverName))
	h.Set("Auto-Submitted", "auto-generated")
	h.SetContentType("multipart/alternative", nil)

	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, err
	}

	text := renderText(msg)
	if err := writePart(w, "text/plain", "quoted-printable", []byte(text)); err != nil {
		return nil, err
	}
	if err := writePart(w, "text/html", "quoted-printable", []byte(renderHTML(msg))); err != nil {
		return nil, err
	}

	var ch message.Header
	ch.SetContentType("text/calendar", map[string]string{
		"charset":   "utf-8",
		"method":    msg.Method,
		"component": msg.Component,
	})
	ch.Set("Content-Transfer-Encoding", "base64")
	pw, err := w.CreatePart(ch)
	if err != nil {
		return nil, err
	}
	if _, err := pw.Write(msg.ICalData); err != nil {
		return nil, err
	}
	if err := pw.Close(); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(w *message.Writer, contentType, encoding string, body []byte) error {
	var h message.Header
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", encoding)
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := pw.Write(body); err != nil {
		return err
	}
	return pw.Close()
}

func renderText(msg *Message) string {
	verb := "invited you to"
	switch msg.Method {
	case "CANCEL":
		verb = "cancelled"
	case "REPLY":
		verb = "replied about"
	default:
		if msg.IsUpdate {
			verb = "updated"
		}
	}
	return fmt.Sprintf("%s has %s %q.\r\n\r\nThis message contains calendar data; open it with a calendar-capable client.\r\n",
		senderName(msg), verb, msg.Subject())
}

func renderHTML(msg *Message) string {
	return fmt.Sprintf("<html><body><p>%s</p></body></html>\r\n", htmlEscape(renderText(msg)))
}

func senderName(msg *Message) string {
	if msg.OriginatorName != "" {
		return msg.OriginatorName
	}
	return msg.Originator
}

func htmlEscape(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '&':
			buf.WriteString("&amp;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}
