package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for missing calendars, objects and messages.
var ErrNotFound = errors.New("not found")

type Calendar struct {
	ID          string
	OwnerUID    string
	URI         string
	DisplayName string
	CTag        string
	// Transparency is the schedule-calendar-transp annotation:
	// "opaque" calendars contribute to busy time, "transparent" don't.
	Transparency string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Object struct {
	ID          string
	CalendarID  string
	UID         string
	ETag        string
	ScheduleTag string
	Data        string
	Component   string // VEVENT/VTODO/VPOLL
	StartAt     *time.Time
	EndAt       *time.Time
	UpdatedAt   time.Time
}

// InboxMessage is one iTIP message resource in a user's Scheduling
// Inbox.
type InboxMessage struct {
	ID         string
	OwnerUID   string
	UID        string
	Method     string
	Originator string
	Recipient  string
	Data       string
	ReceivedAt time.Time
}

type Store interface {
	Close()

	// Calendars
	CreateCalendar(ctx context.Context, c *Calendar) error
	GetCalendar(ctx context.Context, id string) (*Calendar, error)
	ListCalendarsByOwner(ctx context.Context, ownerUID string) ([]*Calendar, error)
	SetCalendarTransparency(ctx context.Context, id, transp string) error

	// schedule-default-calendar annotation
	DefaultCalendar(ctx context.Context, ownerUID string) (string, error)
	SetDefaultCalendar(ctx context.Context, ownerUID, calendarID string) error

	// Objects
	GetObject(ctx context.Context, calendarID, uid string) (*Object, error)
	// FindObjectByUID scans every calendar of the owner for the UID.
	FindObjectByUID(ctx context.Context, ownerUID, uid string) (*Object, error)
	PutObject(ctx context.Context, obj *Object) error
	// UpdateObject applies mutate under the object's storage lock and
	// persists the result atomically.
	UpdateObject(ctx context.Context, calendarID, uid string, mutate func(*Object) error) error
	DeleteObject(ctx context.Context, calendarID, uid string) error
	ListObjects(ctx context.Context, calendarID string, components []string, start, end *time.Time) ([]*Object, error)

	// Scheduling Inbox
	PutInboxMessage(ctx context.Context, msg *InboxMessage) error
	ListInboxMessages(ctx context.Context, ownerUID string) ([]*InboxMessage, error)
	DeleteInboxMessage(ctx context.Context, ownerUID, id string) error
}
