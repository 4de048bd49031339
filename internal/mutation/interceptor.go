package mutation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/livestore/internal/hub"
	"github.com/jpalmerr/livestore/internal/store"
)

// Op is the kind of write a [Request] performs.
type Op string

const (
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
)

// Request describes one single-record write.
//
// ID is ignored for OpCreate; the payload's own "id", if any, is used.
// Payload is ignored for OpDelete.
type Request struct {
	Resource string
	Op       Op
	ID       int64
	Payload  store.Record
}

// Interceptor applies single-record writes and publishes one event per
// successful write.
type Interceptor struct {
	store       store.Store
	broadcaster *hub.Broadcaster
	validator   *Validator
	logger      *slog.Logger
}

// NewInterceptor creates an interceptor writing to st and publishing via b.
func NewInterceptor(st store.Store, b *hub.Broadcaster, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		store:       st,
		broadcaster: b,
		validator:   NewValidator(st),
		logger:      logger,
	}
}

// Apply validates and performs req, then publishes CREATED, UPDATED or
// DELETED. It returns the resulting record; for deletes that is the removed
// record's last state.
//
// Errors wrap [ErrInvalidInput], [store.ErrNotFound], [store.ErrUnknownResource],
// [store.ErrConflict] or [ErrStoreFailure]. No event is published on error.
func (i *Interceptor) Apply(ctx context.Context, req Request) (store.Record, error) {
	var result store.Record

	_, err := i.broadcaster.Commit(ctx, func(ctx context.Context) (*hub.ChangeEvent, error) {
		var (
			ev  *hub.ChangeEvent
			err error
		)
		switch req.Op {
		case OpCreate:
			result, ev, err = i.create(ctx, req)
		case OpUpdate, OpReplace:
			result, ev, err = i.write(ctx, req)
		case OpDelete:
			result, ev, err = i.remove(ctx, req)
		default:
			err = invalid(fmt.Sprintf("unsupported operation %q", req.Op))
		}
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (i *Interceptor) create(ctx context.Context, req Request) (store.Record, *hub.ChangeEvent, error) {
	body := req.Payload.Clone()
	if body == nil {
		body = store.Record{}
	}
	if err := i.validator.Validate(ctx, OpCreate, req.Resource, 0, body); err != nil {
		return nil, nil, err
	}

	rec, err := i.store.Insert(ctx, req.Resource, body)
	if err != nil {
		return nil, nil, i.fail("insert", req, err)
	}

	id, _ := rec.ID()
	return rec, &hub.ChangeEvent{
		Type:     hub.KindCreated,
		Resource: req.Resource,
		Path:     "/" + req.Resource,
		ID:       &id,
		Data:     rec,
	}, nil
}

func (i *Interceptor) write(ctx context.Context, req Request) (store.Record, *hub.ChangeEvent, error) {
	body := req.Payload.Clone()
	if body == nil {
		body = store.Record{}
	}
	if err := i.validator.Validate(ctx, req.Op, req.Resource, req.ID, body); err != nil {
		return nil, nil, err
	}

	var (
		rec store.Record
		err error
	)
	if req.Op == OpReplace {
		rec, err = i.store.Replace(ctx, req.Resource, req.ID, body)
	} else {
		rec, err = i.store.Update(ctx, req.Resource, req.ID, body)
	}
	if err != nil {
		return nil, nil, i.fail(string(req.Op), req, err)
	}

	id := req.ID
	return rec, &hub.ChangeEvent{
		Type:     hub.KindUpdated,
		Resource: req.Resource,
		Path:     recordPath(req.Resource, id),
		ID:       &id,
		Data:     rec,
	}, nil
}

func (i *Interceptor) remove(ctx context.Context, req Request) (store.Record, *hub.ChangeEvent, error) {
	prev, err := i.store.Get(ctx, req.Resource, req.ID)
	if err != nil {
		return nil, nil, i.fail("delete", req, err)
	}

	removed, err := i.store.Remove(ctx, req.Resource, req.ID)
	if err != nil {
		return nil, nil, i.fail("delete", req, err)
	}
	if !removed {
		return nil, nil, i.fail("delete", req, store.ErrNotFound)
	}

	rest, err := i.store.List(ctx, req.Resource)
	if err != nil {
		// the delete is committed, so the event still goes out
		i.logger.Error("failed to list collection after delete",
			"resource", req.Resource,
			"error", err.Error(),
		)
		rest = nil
	}

	id := req.ID
	return prev, &hub.ChangeEvent{
		Type:     hub.KindDeleted,
		Resource: req.Resource,
		Path:     recordPath(req.Resource, id),
		ID:       &id,
		Data:     rest,
	}, nil
}

func (i *Interceptor) fail(op string, req Request, err error) error {
	wrapped := storeFailure(fmt.Sprintf("failed to %s %s", op, req.Resource), err,
		store.ErrNotFound, store.ErrUnknownResource, store.ErrConflict)
	if !isExpected(err) {
		i.logger.Error("store write failed",
			"op", op,
			"resource", req.Resource,
			"id", req.ID,
			"error", err.Error(),
		)
	}
	return wrapped
}

func recordPath(resource string, id int64) string {
	return fmt.Sprintf("/%s/%d", resource, id)
}
