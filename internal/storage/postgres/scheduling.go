package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/calfed/itipd/internal/storage"
)

func (s *Store) PutInboxMessage(ctx context.Context, msg *storage.InboxMessage) error {
	return s.pool.QueryRow(ctx, `
        INSERT INTO scheduling_inbox (owner_uid, uid, method, originator, recipient, data)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id::text, received_at
    `, msg.OwnerUID, msg.UID, msg.Method, msg.Originator, msg.Recipient, msg.Data).
		Scan(&msg.ID, &msg.ReceivedAt)
}

func (s *Store) ListInboxMessages(ctx context.Context, ownerUID string) ([]*storage.InboxMessage, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id::text, owner_uid, uid, method, originator, recipient, data, received_at
        FROM scheduling_inbox
        WHERE owner_uid = $1
        ORDER BY received_at ASC
    `, ownerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.InboxMessage
	for rows.Next() {
		var m storage.InboxMessage
		if err := rows.Scan(&m.ID, &m.OwnerUID, &m.UID, &m.Method, &m.Originator, &m.Recipient, &m.Data, &m.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteInboxMessage(ctx context.Context, ownerUID, id string) error {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM scheduling_inbox
        WHERE owner_uid = $1 AND id::text = $2
    `, ownerUID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
