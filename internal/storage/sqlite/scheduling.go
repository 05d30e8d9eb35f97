package sqlite

import (
	"context"
	"time"

	"github.com/calfed/itipd/internal/storage"
)

func (s *Store) PutInboxMessage(ctx context.Context, msg *storage.InboxMessage) error {
	if msg.ID == "" {
		msg.ID = randID()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO scheduling_inbox (id, owner_uid, uid, method, originator, recipient, data, received_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, msg.ID, msg.OwnerUID, msg.UID, msg.Method, msg.Originator, msg.Recipient, msg.Data,
		msg.ReceivedAt.Format(timeLayout))
	return err
}

func (s *Store) ListInboxMessages(ctx context.Context, ownerUID string) ([]*storage.InboxMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, owner_uid, uid, method, originator, recipient, data, received_at
        FROM scheduling_inbox
        WHERE owner_uid = ?
        ORDER BY received_at ASC
    `, ownerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.InboxMessage
	for rows.Next() {
		var m storage.InboxMessage
		var received string
		if err := rows.Scan(&m.ID, &m.OwnerUID, &m.UID, &m.Method, &m.Originator, &m.Recipient, &m.Data, &received); err != nil {
			return nil, err
		}
		m.ReceivedAt, _ = time.Parse(timeLayout, received)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteInboxMessage(ctx context.Context, ownerUID, id string) error {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM scheduling_inbox
        WHERE owner_uid = ? AND id = ?
    `, ownerUID, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
