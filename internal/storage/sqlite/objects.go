package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/calfed/itipd/internal/storage"
)

type objRow struct {
	storage.Object
	start, end sql.NullString
	updated    string
}

func (r *objRow) finish() *storage.Object {
	o := r.Object
	if r.start.Valid {
		if t, err := time.Parse(timeLayout, r.start.String); err == nil {
			o.StartAt = &t
		}
	}
	if r.end.Valid {
		if t, err := time.Parse(timeLayout, r.end.String); err == nil {
			o.EndAt = &t
		}
	}
	o.UpdatedAt, _ = time.Parse(timeLayout, r.updated)
	return &o
}

func scanObjRow(scan func(dest ...any) error) (*storage.Object, error) {
	var r objRow
	err := scan(&r.ID, &r.CalendarID, &r.UID, &r.ETag, &r.ScheduleTag, &r.Data, &r.Component, &r.start, &r.end, &r.updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.finish(), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

const objectColumns = `id, calendar_id, uid, etag, schedule_tag, data, component, start_at, end_at, updated_at`

func (s *Store) GetObject(ctx context.Context, calendarID, uid string) (*storage.Object, error) {
	return scanObjRow(s.db.QueryRowContext(ctx, `
        SELECT `+objectColumns+`
        FROM calendar_objects
        WHERE calendar_id = ? AND uid = ?
    `, calendarID, uid).Scan)
}

func (s *Store) FindObjectByUID(ctx context.Context, ownerUID, uid string) (*storage.Object, error) {
	return scanObjRow(s.db.QueryRowContext(ctx, `
        SELECT o.id, o.calendar_id, o.uid, o.etag, o.schedule_tag, o.data, o.component, o.start_at, o.end_at, o.updated_at
        FROM calendar_objects o
        JOIN calendars c ON c.id = o.calendar_id
        WHERE c.owner_uid = ? AND o.uid = ?
        LIMIT 1
    `, ownerUID, uid).Scan)
}

func (s *Store) PutObject(ctx context.Context, obj *storage.Object) error {
	if obj.ID == "" {
		obj.ID = randID()
	}
	obj.ETag = randID()
	obj.ScheduleTag = randID()
	obj.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO calendar_objects (id, calendar_id, uid, etag, schedule_tag, data, component, start_at, end_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (calendar_id, uid) DO UPDATE SET
            etag = excluded.etag,
            schedule_tag = excluded.schedule_tag,
            data = excluded.data,
            component = excluded.component,
            start_at = excluded.start_at,
            end_at = excluded.end_at,
            updated_at = excluded.updated_at
    `, obj.ID, obj.CalendarID, obj.UID, obj.ETag, obj.ScheduleTag, obj.Data, obj.Component,
		nullTime(obj.StartAt), nullTime(obj.EndAt), obj.UpdatedAt.Format(timeLayout))
	if err != nil {
		return err
	}

	if err := s.bumpCTag(ctx, tx, obj.CalendarID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateObject(ctx context.Context, calendarID, uid string, mutate func(*storage.Object) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	obj, err := scanObjRow(tx.QueryRowContext(ctx, `
        SELECT `+objectColumns+`
        FROM calendar_objects
        WHERE calendar_id = ? AND uid = ?
    `, calendarID, uid).Scan)
	if err != nil {
		return err
	}

	if err := mutate(obj); err != nil {
		return err
	}

	obj.ETag = randID()
	obj.ScheduleTag = randID()
	obj.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
        UPDATE calendar_objects
        SET etag = ?, schedule_tag = ?, data = ?, component = ?,
            start_at = ?, end_at = ?, updated_at = ?
        WHERE calendar_id = ? AND uid = ?
    `, obj.ETag, obj.ScheduleTag, obj.Data, obj.Component,
		nullTime(obj.StartAt), nullTime(obj.EndAt), obj.UpdatedAt.Format(timeLayout),
		calendarID, uid)
	if err != nil {
		return err
	}

	if err := s.bumpCTag(ctx, tx, calendarID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteObject(ctx context.Context, calendarID, uid string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        DELETE FROM calendar_objects
        WHERE calendar_id = ? AND uid = ?
    `, calendarID, uid)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}

	if err := s.bumpCTag(ctx, tx, calendarID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListObjects(ctx context.Context, calendarID string, components []string, start, end *time.Time) ([]*storage.Object, error) {
	query := `
        SELECT ` + objectColumns + `
        FROM calendar_objects
        WHERE calendar_id = ?
    `
	args := []any{calendarID}
	if len(components) > 0 {
		query += ` AND component IN (?` + strings.Repeat(", ?", len(components)-1) + `)`
		for _, c := range components {
			args = append(args, c)
		}
	}
	if start != nil {
		query += ` AND (end_at IS NULL OR end_at > ?)`
		args = append(args, start.UTC().Format(timeLayout))
	}
	if end != nil {
		query += ` AND (start_at IS NULL OR start_at < ?)`
		args = append(args, end.UTC().Format(timeLayout))
	}
	query += ` ORDER BY uid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Object
	for rows.Next() {
		obj, err := scanObjRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}
