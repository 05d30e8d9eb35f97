package filestore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

func (s *Store) calDir(id string) string {
	return filepath.Join(s.root, "calendars", id)
}
func (s *Store) calMetaPath(id string) string {
	return filepath.Join(s.calDir(id), "calendar.json")
}
func (s *Store) calObjectsDir(id string) string {
	return filepath.Join(s.calDir(id), "objects")
}
func (s *Store) objPath(calendarID, uid string) string {
	return filepath.Join(s.calObjectsDir(calendarID), uid+".json")
}
func (s *Store) ownerIndexPath(ownerUID string) string {
	return filepath.Join(s.root, "owners", ownerUID, "calendars.json")
}
func (s *Store) inboxDir(ownerUID string) string {
	return filepath.Join(s.root, "scheduling", ownerUID, "inbox")
}
func (s *Store) inboxMsgPath(ownerUID, id string) string {
	return filepath.Join(s.inboxDir(ownerUID), id+".json")
}
func (s *Store) userSettingsPath(ownerUID string) string {
	return filepath.Join(s.root, "users", ownerUID, "scheduling.json")
}

func randID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

type calMeta struct {
	ID           string    `json:"id"`
	OwnerUID     string    `json:"owner_uid"`
	URI          string    `json:"uri"`
	DisplayName  string    `json:"display_name"`
	CTag         string    `json:"ctag"`
	Transparency string    `json:"transparency"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type objFile struct {
	ID          string     `json:"id"`
	CalendarID  string     `json:"calendar_id"`
	UID         string     `json:"uid"`
	ETag        string     `json:"etag"`
	ScheduleTag string     `json:"schedule_tag"`
	Data        string     `json:"data"`
	Component   string     `json:"component"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type inboxMsgFile struct {
	ID         string    `json:"id"`
	UID        string    `json:"uid"`
	Method     string    `json:"method"`
	Originator string    `json:"originator"`
	Recipient  string    `json:"recipient"`
	Data       string    `json:"data"`
	ReceivedAt time.Time `json:"received_at"`
}

type userSettings struct {
	DefaultCalendarID string    `json:"default_calendar_id"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func readJSON[T any](path string, out *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSON(path string, v any) error {
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
