package ischedule

import (
	"errors"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const Namespace = "urn:ietf:params:xml:ns:ischedule"

// RecipientResponse is one <response> element of a schedule-response
// document.
type RecipientResponse struct {
	Recipient     string
	RequestStatus string
	CalendarData  string
}

// BuildScheduleResponse renders the schedule-response document with one
// response element per recipient.
func BuildScheduleResponse(items []RecipientResponse) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("schedule-response")
	root.CreateAttr("xmlns", Namespace)
	for _, item := range items {
		resp := root.CreateElement("response")
		resp.CreateElement("recipient").SetText(item.Recipient)
		resp.CreateElement("request-status").SetText(item.RequestStatus)
		if item.CalendarData != "" {
			cd := resp.CreateElement("calendar-data")
			cd.SetCData(item.CalendarData)
		}
	}
	doc.Indent(2)
	return doc.WriteToBytes()
}

// ParseScheduleResponse extracts per-recipient statuses from a peer's
// schedule-response body.
func ParseScheduleResponse(data []byte) ([]RecipientResponse, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || localName(root.Tag) != "schedule-response" {
		return nil, errors.New("missing schedule-response root element")
	}
	var out []RecipientResponse
	for _, resp := range root.ChildElements() {
		if localName(resp.Tag) != "response" {
			continue
		}
		var item RecipientResponse
		for _, child := range resp.ChildElements() {
			switch localName(child.Tag) {
			case "recipient":
				item.Recipient = strings.TrimSpace(child.Text())
			case "request-status":
				item.RequestStatus = strings.TrimSpace(child.Text())
			case "calendar-data":
				item.CalendarData = child.Text()
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// BuildCapabilities renders the query-result document answered on
// GET ?action=capabilities.
func BuildCapabilities(serial int, enableVPoll bool) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("query-result")
	root.CreateAttr("xmlns", Namespace)
	caps := root.CreateElement("capabilities")
	caps.CreateElement("serial-number").SetText(strconv.Itoa(serial))
	caps.CreateElement("versions").CreateElement("version").SetText("1.0")

	msgs := caps.CreateElement("scheduling-messages")
	comps := []string{"VEVENT", "VTODO"}
	if enableVPoll {
		comps = append(comps, "VPOLL")
	}
	for _, name := range comps {
		comp := msgs.CreateElement("component")
		comp.CreateAttr("name", name)
		for _, method := range []string{"REQUEST", "REPLY", "CANCEL"} {
			m := comp.CreateElement("method")
			m.CreateAttr("name", method)
		}
	}
	fb := msgs.CreateElement("component")
	fb.CreateAttr("name", "VFREEBUSY")
	fbm := fb.CreateElement("method")
	fbm.CreateAttr("name", "REQUEST")

	types := caps.CreateElement("calendar-data-types")
	ct := types.CreateElement("calendar-data-type")
	ct.CreateAttr("content-type", "text/calendar")
	ct.CreateAttr("version", "2.0")

	caps.CreateElement("attachments").CreateElement("inline")

	doc.Indent(2)
	return doc.WriteToBytes()
}

// BuildError renders the error document carried on a 4xx iSchedule
// response, naming the violated precondition.
func BuildError(ve *ValidationError) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("error")
	root.CreateAttr("xmlns", Namespace)
	root.CreateElement(ve.Precondition)
	if ve.Detail != "" {
		root.CreateElement("description").SetText(ve.Detail)
	}
	doc.Indent(2)
	return doc.WriteToBytes()
}

// CapabilitiesETag is stable for a given configuration serial.
func CapabilitiesETag(serial int) string {
	return `"ischedule-` + strconv.Itoa(serial) + `"`
}

func localName(tag string) string {
	if i := strings.LastIndex(tag, ":"); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
