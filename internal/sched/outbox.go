package sched

import (
	"context"
	"errors"
	"fmt"

	"github.com/calfed/itipd/internal/storage"
	"github.com/calfed/itipd/pkg/ical"
)

// ErrInvalidObject marks submissions that fail iCalendar parsing.
var ErrInvalidObject = errors.New("invalid calendar object")

// SubmitOutbox handles a scheduling write for ownerUID: it runs the
// planner against the stored copy of the same UID, persists the
// annotated result and returns it.
func (e *Engine) SubmitOutbox(ctx context.Context, auth *AuthContext, ownerUID string, newData []byte) ([]byte, error) {
	newObj, err := ical.ParseObject(newData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}

	stored, err := e.store.FindObjectByUID(ctx, ownerUID, newObj.UID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	var oldData []byte
	if stored != nil {
		oldData = []byte(stored.Data)
	}

	annotated, err := e.ProcessWrite(ctx, auth, oldData, newData)
	if err != nil {
		return nil, err
	}

	cur, err := ical.ParseObject(annotated)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		err = e.store.UpdateObject(ctx, stored.CalendarID, cur.UID, func(obj *storage.Object) error {
			obj.Data = string(annotated)
			obj.Component = cur.Kind
			setObjectWindow(obj, cur)
			return nil
		})
		return annotated, err
	}

	calendarID, err := e.router.defaultCalendar(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	obj := &storage.Object{
		CalendarID: calendarID,
		UID:        cur.UID,
		Data:       string(annotated),
		Component:  cur.Kind,
	}
	setObjectWindow(obj, cur)
	if err := e.store.PutObject(ctx, obj); err != nil {
		return nil, err
	}
	return annotated, nil
}

// CancelOutbox deletes a scheduled object, fanning out CANCEL or a
// decline REPLY first depending on the acting user's role.
func (e *Engine) CancelOutbox(ctx context.Context, auth *AuthContext, ownerUID, uid string) error {
	stored, err := e.store.FindObjectByUID(ctx, ownerUID, uid)
	if err != nil {
		return err
	}
	if _, err := e.ProcessWrite(ctx, auth, []byte(stored.Data), nil); err != nil {
		return err
	}
	return e.store.DeleteObject(ctx, stored.CalendarID, uid)
}
