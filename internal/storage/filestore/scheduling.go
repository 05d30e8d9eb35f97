package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/calfed/itipd/internal/storage"
)

func (s *Store) PutInboxMessage(_ context.Context, msg *storage.InboxMessage) error {
	if msg.ID == "" {
		msg.ID = randID()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(s.inboxDir(msg.OwnerUID), 0o755); err != nil {
		return err
	}
	return writeJSON(s.inboxMsgPath(msg.OwnerUID, msg.ID), &inboxMsgFile{
		ID:         msg.ID,
		UID:        msg.UID,
		Method:     msg.Method,
		Originator: msg.Originator,
		Recipient:  msg.Recipient,
		Data:       msg.Data,
		ReceivedAt: msg.ReceivedAt,
	})
}

func (s *Store) ListInboxMessages(_ context.Context, ownerUID string) ([]*storage.InboxMessage, error) {
	entries, err := os.ReadDir(s.inboxDir(ownerUID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []*storage.InboxMessage
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var f inboxMsgFile
		if err := readJSON(s.inboxMsgPath(ownerUID, strings.TrimSuffix(e.Name(), ".json")), &f); err != nil {
			continue
		}
		out = append(out, &storage.InboxMessage{
			ID:         f.ID,
			OwnerUID:   ownerUID,
			UID:        f.UID,
			Method:     f.Method,
			Originator: f.Originator,
			Recipient:  f.Recipient,
			Data:       f.Data,
			ReceivedAt: f.ReceivedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (s *Store) DeleteInboxMessage(_ context.Context, ownerUID, id string) error {
	if err := os.Remove(s.inboxMsgPath(ownerUID, id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return err
	}
	return nil
}
