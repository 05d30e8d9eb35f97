package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/calfed/itipd/internal/storage"
)

func (s *Store) CreateCalendar(_ context.Context, c *storage.Calendar) error {
	if c.ID == "" {
		c.ID = randID()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.CTag == "" {
		c.CTag = randID()
	}
	if c.Transparency == "" {
		c.Transparency = "opaque"
	}
	return s.withCalLock(c.ID, func() error {
		if err := os.MkdirAll(s.calObjectsDir(c.ID), 0o755); err != nil {
			return err
		}
		if err := writeJSON(s.calMetaPath(c.ID), metaFromCalendar(c)); err != nil {
			return err
		}
		return s.addToOwnerIndex(c.OwnerUID, c.ID)
	})
}

func (s *Store) GetCalendar(_ context.Context, id string) (*storage.Calendar, error) {
	var m calMeta
	if err := readJSON(s.calMetaPath(id), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return calendarFromMeta(&m), nil
}

func (s *Store) ListCalendarsByOwner(_ context.Context, ownerUID string) ([]*storage.Calendar, error) {
	var ids []string
	if err := readJSON(s.ownerIndexPath(ownerUID), &ids); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*storage.Calendar, 0, len(ids))
	for _, id := range ids {
		var m calMeta
		if err := readJSON(s.calMetaPath(id), &m); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, calendarFromMeta(&m))
	}
	return out, nil
}

func (s *Store) SetCalendarTransparency(_ context.Context, id, transp string) error {
	return s.withCalLock(id, func() error {
		var m calMeta
		if err := readJSON(s.calMetaPath(id), &m); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return storage.ErrNotFound
			}
			return err
		}
		m.Transparency = transp
		m.UpdatedAt = time.Now().UTC()
		return writeJSON(s.calMetaPath(id), &m)
	})
}

func (s *Store) DefaultCalendar(_ context.Context, ownerUID string) (string, error) {
	var us userSettings
	if err := readJSON(s.userSettingsPath(ownerUID), &us); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	if us.DefaultCalendarID == "" {
		return "", storage.ErrNotFound
	}
	return us.DefaultCalendarID, nil
}

func (s *Store) SetDefaultCalendar(_ context.Context, ownerUID, calendarID string) error {
	dir := filepath.Dir(s.userSettingsPath(ownerUID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSON(s.userSettingsPath(ownerUID), &userSettings{
		DefaultCalendarID: calendarID,
		UpdatedAt:         time.Now().UTC(),
	})
}

func (s *Store) bumpCTag(calendarID string) error {
	var m calMeta
	if err := readJSON(s.calMetaPath(calendarID), &m); err != nil {
		return err
	}
	m.CTag = randID()
	m.UpdatedAt = time.Now().UTC()
	return writeJSON(s.calMetaPath(calendarID), &m)
}

func (s *Store) addToOwnerIndex(ownerUID, calendarID string) error {
	path := s.ownerIndexPath(ownerUID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var ids []string
	if err := readJSON(path, &ids); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, id := range ids {
		if id == calendarID {
			return nil
		}
	}
	ids = append(ids, calendarID)
	return writeJSON(path, ids)
}

func metaFromCalendar(c *storage.Calendar) *calMeta {
	return &calMeta{
		ID:           c.ID,
		OwnerUID:     c.OwnerUID,
		URI:          c.URI,
		DisplayName:  c.DisplayName,
		CTag:         c.CTag,
		Transparency: c.Transparency,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func calendarFromMeta(m *calMeta) *storage.Calendar {
	return &storage.Calendar{
		ID:           m.ID,
		OwnerUID:     m.OwnerUID,
		URI:          m.URI,
		DisplayName:  m.DisplayName,
		CTag:         m.CTag,
		Transparency: m.Transparency,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
