package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/calfed/itipd/internal/storage"
)

func (s *Store) GetObject(_ context.Context, calendarID, uid string) (*storage.Object, error) {
	var f objFile
	if err := readJSON(s.objPath(calendarID, uid), &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return objectFromFile(&f), nil
}

func (s *Store) FindObjectByUID(ctx context.Context, ownerUID, uid string) (*storage.Object, error) {
	cals, err := s.ListCalendarsByOwner(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	for _, c := range cals {
		obj, err := s.GetObject(ctx, c.ID, uid)
		if err == nil {
			return obj, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) PutObject(_ context.Context, obj *storage.Object) error {
	if obj.ID == "" {
		obj.ID = randID()
	}
	obj.ETag = randID()
	obj.ScheduleTag = randID()
	obj.UpdatedAt = time.Now().UTC()
	return s.withCalLock(obj.CalendarID, func() error {
		if err := os.MkdirAll(s.calObjectsDir(obj.CalendarID), 0o755); err != nil {
			return err
		}
		if err := writeJSON(s.objPath(obj.CalendarID, obj.UID), fileFromObject(obj)); err != nil {
			return err
		}
		return s.bumpCTag(obj.CalendarID)
	})
}

func (s *Store) UpdateObject(_ context.Context, calendarID, uid string, mutate func(*storage.Object) error) error {
	return s.withCalLock(calendarID, func() error {
		var f objFile
		if err := readJSON(s.objPath(calendarID, uid), &f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return storage.ErrNotFound
			}
			return err
		}
		obj := objectFromFile(&f)
		if err := mutate(obj); err != nil {
			return err
		}
		obj.ETag = randID()
		obj.ScheduleTag = randID()
		obj.UpdatedAt = time.Now().UTC()
		if err := writeJSON(s.objPath(calendarID, uid), fileFromObject(obj)); err != nil {
			return err
		}
		return s.bumpCTag(calendarID)
	})
}

func (s *Store) DeleteObject(_ context.Context, calendarID, uid string) error {
	return s.withCalLock(calendarID, func() error {
		if err := os.Remove(s.objPath(calendarID, uid)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return storage.ErrNotFound
			}
			return err
		}
		return s.bumpCTag(calendarID)
	})
}

func (s *Store) ListObjects(_ context.Context, calendarID string, components []string, start, end *time.Time) ([]*storage.Object, error) {
	entries, err := os.ReadDir(s.calObjectsDir(calendarID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []*storage.Object
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var f objFile
		if err := readJSON(s.objPath(calendarID, strings.TrimSuffix(e.Name(), ".json")), &f); err != nil {
			continue
		}
		if len(components) > 0 && !containsFold(components, f.Component) {
			continue
		}
		if start != nil && f.EndAt != nil && !f.EndAt.After(*start) {
			continue
		}
		if end != nil && f.StartAt != nil && !f.StartAt.Before(*end) {
			continue
		}
		out = append(out, objectFromFile(&f))
	}
	return out, nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func objectFromFile(f *objFile) *storage.Object {
	return &storage.Object{
		ID:          f.ID,
		CalendarID:  f.CalendarID,
		UID:         f.UID,
		ETag:        f.ETag,
		ScheduleTag: f.ScheduleTag,
		Data:        f.Data,
		Component:   f.Component,
		StartAt:     f.StartAt,
		EndAt:       f.EndAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func fileFromObject(o *storage.Object) *objFile {
	return &objFile{
		ID:          o.ID,
		CalendarID:  o.CalendarID,
		UID:         o.UID,
		ETag:        o.ETag,
		ScheduleTag: o.ScheduleTag,
		Data:        o.Data,
		Component:   o.Component,
		StartAt:     o.StartAt,
		EndAt:       o.EndAt,
		UpdatedAt:   o.UpdatedAt,
	}
}
