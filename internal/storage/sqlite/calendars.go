package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/calfed/itipd/internal/storage"
)

const timeLayout = time.RFC3339Nano

func randID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (s *Store) CreateCalendar(ctx context.Context, c *storage.Calendar) error {
	if c.ID == "" {
		c.ID = randID()
	}
	if c.CTag == "" {
		c.CTag = randID()
	}
	if c.Transparency == "" {
		c.Transparency = "opaque"
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO calendars (id, owner_uid, uri, display_name, ctag, schedule_transp, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, c.ID, c.OwnerUID, c.URI, c.DisplayName, c.CTag, c.Transparency, now.Format(timeLayout), now.Format(timeLayout))
	return err
}

func scanCalendar(row *sql.Row) (*storage.Calendar, error) {
	var c storage.Calendar
	var created, updated string
	err := row.Scan(&c.ID, &c.OwnerUID, &c.URI, &c.DisplayName, &c.CTag, &c.Transparency, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	c.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &c, nil
}

func (s *Store) GetCalendar(ctx context.Context, id string) (*storage.Calendar, error) {
	return scanCalendar(s.db.QueryRowContext(ctx, `
        SELECT id, owner_uid, uri, display_name, ctag, schedule_transp, created_at, updated_at
        FROM calendars
        WHERE id = ?
    `, id))
}

func (s *Store) ListCalendarsByOwner(ctx context.Context, ownerUID string) ([]*storage.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, owner_uid, uri, display_name, ctag, schedule_transp, created_at, updated_at
        FROM calendars
        WHERE owner_uid = ?
        ORDER BY uri
    `, ownerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Calendar
	for rows.Next() {
		var c storage.Calendar
		var created, updated string
		if err := rows.Scan(&c.ID, &c.OwnerUID, &c.URI, &c.DisplayName, &c.CTag, &c.Transparency, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(timeLayout, created)
		c.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) SetCalendarTransparency(ctx context.Context, id, transp string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE calendars
        SET schedule_transp = ?, updated_at = ?
        WHERE id = ?
    `, transp, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DefaultCalendar(ctx context.Context, ownerUID string) (string, error) {
	var calendarID sql.NullString
	err := s.db.QueryRowContext(ctx, `
        SELECT default_calendar_id
        FROM user_scheduling_settings
        WHERE user_id = ?
    `, ownerUID).Scan(&calendarID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !calendarID.Valid || calendarID.String == "" {
		return "", storage.ErrNotFound
	}
	return calendarID.String, nil
}

func (s *Store) SetDefaultCalendar(ctx context.Context, ownerUID, calendarID string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO user_scheduling_settings (user_id, default_calendar_id, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET
            default_calendar_id = excluded.default_calendar_id,
            updated_at = excluded.updated_at
    `, ownerUID, calendarID, time.Now().UTC().Format(timeLayout))
	return err
}

func (s *Store) bumpCTag(ctx context.Context, tx *sql.Tx, calendarID string) error {
	_, err := tx.ExecContext(ctx, `
        UPDATE calendars
        SET ctag = ?, updated_at = ?
        WHERE id = ?
    `, randID(), time.Now().UTC().Format(timeLayout), calendarID)
	return err
}
