package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/calfed/itipd/internal/storage"
)

const objectColumns = `id::text, calendar_id::text, uid, etag, schedule_tag, data, component, start_at, end_at, updated_at`

func scanObject(row pgx.Row) (*storage.Object, error) {
	var o storage.Object
	err := row.Scan(&o.ID, &o.CalendarID, &o.UID, &o.ETag, &o.ScheduleTag, &o.Data, &o.Component, &o.StartAt, &o.EndAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetObject(ctx context.Context, calendarID, uid string) (*storage.Object, error) {
	return scanObject(s.pool.QueryRow(ctx, `
        SELECT `+objectColumns+`
        FROM calendar_objects
        WHERE calendar_id::text = $1 AND uid = $2
    `, calendarID, uid))
}

func (s *Store) FindObjectByUID(ctx context.Context, ownerUID, uid string) (*storage.Object, error) {
	return scanObject(s.pool.QueryRow(ctx, `
        SELECT `+objectColumnsQualified("o")+`
        FROM calendar_objects o
        JOIN calendars c ON c.id = o.calendar_id
        WHERE c.owner_uid = $1 AND o.uid = $2
        LIMIT 1
    `, ownerUID, uid))
}

func objectColumnsQualified(alias string) string {
	return alias + `.id::text, ` + alias + `.calendar_id::text, ` + alias + `.uid, ` +
		alias + `.etag, ` + alias + `.schedule_tag, ` + alias + `.data, ` + alias + `.component, ` +
		alias + `.start_at, ` + alias + `.end_at, ` + alias + `.updated_at`
}

func (s *Store) PutObject(ctx context.Context, obj *storage.Object) error {
	obj.ETag = randID()
	obj.ScheduleTag = randID()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO calendar_objects (calendar_id, uid, etag, schedule_tag, data, component, start_at, end_at)
        VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (calendar_id, uid) DO UPDATE SET
            etag = EXCLUDED.etag,
            schedule_tag = EXCLUDED.schedule_tag,
            data = EXCLUDED.data,
            component = EXCLUDED.component,
            start_at = EXCLUDED.start_at,
            end_at = EXCLUDED.end_at,
            updated_at = NOW()
        RETURNING id::text, updated_at
    `, obj.CalendarID, obj.UID, obj.ETag, obj.ScheduleTag, obj.Data, obj.Component, obj.StartAt, obj.EndAt).
		Scan(&obj.ID, &obj.UpdatedAt)
	if err != nil {
		return err
	}

	if err := bumpCTag(ctx, tx, obj.CalendarID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateObject(ctx context.Context, calendarID, uid string, mutate func(*storage.Object) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	obj, err := scanObject(tx.QueryRow(ctx, `
        SELECT `+objectColumns+`
        FROM calendar_objects
        WHERE calendar_id::text = $1 AND uid = $2
        FOR UPDATE
    `, calendarID, uid))
	if err != nil {
		return err
	}

	if err := mutate(obj); err != nil {
		return err
	}

	obj.ETag = randID()
	obj.ScheduleTag = randID()
	_, err = tx.Exec(ctx, `
        UPDATE calendar_objects
        SET etag = $1, schedule_tag = $2, data = $3, component = $4,
            start_at = $5, end_at = $6, updated_at = NOW()
        WHERE calendar_id::text = $7 AND uid = $8
    `, obj.ETag, obj.ScheduleTag, obj.Data, obj.Component, obj.StartAt, obj.EndAt, calendarID, uid)
	if err != nil {
		return err
	}

	if err := bumpCTag(ctx, tx, calendarID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) DeleteObject(ctx context.Context, calendarID, uid string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        DELETE FROM calendar_objects
        WHERE calendar_id::text = $1 AND uid = $2
    `, calendarID, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if err := bumpCTag(ctx, tx, calendarID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListObjects(ctx context.Context, calendarID string, components []string, start, end *time.Time) ([]*storage.Object, error) {
	query := `
        SELECT ` + objectColumns + `
        FROM calendar_objects
        WHERE calendar_id::text = $1
    `
	args := []any{calendarID}
	if len(components) > 0 {
		args = append(args, components)
		query += ` AND component = ANY($2)`
	}
	if start != nil {
		args = append(args, *start)
		query += ` AND (end_at IS NULL OR end_at > $` + strconv.Itoa(len(args)) + `)`
	}
	if end != nil {
		args = append(args, *end)
		query += ` AND (start_at IS NULL OR start_at < $` + strconv.Itoa(len(args)) + `)`
	}
	query += ` ORDER BY uid`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Object
	for rows.Next() {
		var o storage.Object
		if err := rows.Scan(&o.ID, &o.CalendarID, &o.UID, &o.ETag, &o.ScheduleTag, &o.Data, &o.Component, &o.StartAt, &o.EndAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func bumpCTag(ctx context.Context, tx pgx.Tx, calendarID string) error {
	_, err := tx.Exec(ctx, `
        UPDATE calendars
        SET ctag = $1, updated_at = NOW()
        WHERE id::text = $2
    `, randID(), calendarID)
	return err
}
