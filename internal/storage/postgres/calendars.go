package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/calfed/itipd/internal/storage"
)

func randID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (s *Store) CreateCalendar(ctx context.Context, c *storage.Calendar) error {
	if c.CTag == "" {
		c.CTag = randID()
	}
	if c.Transparency == "" {
		c.Transparency = "opaque"
	}
	return s.pool.QueryRow(ctx, `
        INSERT INTO calendars (owner_uid, uri, display_name, ctag, schedule_transp)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id::text, created_at, updated_at
    `, c.OwnerUID, c.URI, c.DisplayName, c.CTag, c.Transparency).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (s *Store) GetCalendar(ctx context.Context, id string) (*storage.Calendar, error) {
	var c storage.Calendar
	err := s.pool.QueryRow(ctx, `
        SELECT id::text, owner_uid, uri, display_name, ctag, schedule_transp, created_at, updated_at
        FROM calendars
        WHERE id::text = $1
    `, id).Scan(&c.ID, &c.OwnerUID, &c.URI, &c.DisplayName, &c.CTag, &c.Transparency, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCalendarsByOwner(ctx context.Context, ownerUID string) ([]*storage.Calendar, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id::text, owner_uid, uri, display_name, ctag, schedule_transp, created_at, updated_at
        FROM calendars
        WHERE owner_uid = $1
        ORDER BY uri
    `, ownerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Calendar
	for rows.Next() {
		var c storage.Calendar
		if err := rows.Scan(&c.ID, &c.OwnerUID, &c.URI, &c.DisplayName, &c.CTag, &c.Transparency, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) SetCalendarTransparency(ctx context.Context, id, transp string) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE calendars
        SET schedule_transp = $1, updated_at = NOW()
        WHERE id::text = $2
    `, transp, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DefaultCalendar(ctx context.Context, ownerUID string) (string, error) {
	var calendarID *string
	err := s.pool.QueryRow(ctx, `
        SELECT default_calendar_id::text
        FROM user_scheduling_settings
        WHERE user_id = $1
    `, ownerUID).Scan(&calendarID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if calendarID == nil {
		return "", storage.ErrNotFound
	}
	return *calendarID, nil
}

func (s *Store) SetDefaultCalendar(ctx context.Context, ownerUID, calendarID string) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO user_scheduling_settings (user_id, default_calendar_id)
        VALUES ($1, $2::uuid)
        ON CONFLICT (user_id) DO UPDATE SET
            default_calendar_id = EXCLUDED.default_calendar_id,
            updated_at = NOW()
    `, ownerUID, calendarID)
	return err
}
