package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/livestore/internal/hub"
	"github.com/jpalmerr/livestore/internal/store"
)

// BulkRequest is a multi-id delete against one resource.
//
// IDs is the raw JSON value of the request's "ids" field. Anything other
// than a JSON array is rejected.
type BulkRequest struct {
	Resource string
	IDs      json.RawMessage
}

// BulkResult reports the ids a bulk delete targeted, one entry per requested
// id in request order. Entries that are not ids are nil.
type BulkResult struct {
	Resource   string
	DeletedIDs []*int64
}

// BulkDeleter removes many records from one resource and publishes a single
// BULK_DELETED event.
//
// Deletes are best effort and not atomic. Absent ids are skipped silently, a
// failing id does not stop the rest, and nothing is rolled back.
type BulkDeleter struct {
	store       store.Store
	broadcaster *hub.Broadcaster
	logger      *slog.Logger
}

// NewBulkDeleter creates a bulk deleter writing to st and publishing via b.
func NewBulkDeleter(st store.Store, b *hub.Broadcaster, logger *slog.Logger) *BulkDeleter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkDeleter{store: st, broadcaster: b, logger: logger}
}

// BulkDelete removes every id in req from req.Resource.
//
// Ids are coerced to int64. Entries that cannot be coerced are treated as
// not found: nothing is removed for them but they keep their slot in the
// result and the event. The BULK_DELETED event is published even when no
// id existed. If any removal fails the event still reflects what was removed
// and the returned error wraps [ErrStoreFailure] alongside the result.
func (d *BulkDeleter) BulkDelete(ctx context.Context, req BulkRequest) (BulkResult, error) {
	ids, err := parseIDs(req.IDs)
	if err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{Resource: req.Resource, DeletedIDs: ids}

	_, err = d.broadcaster.Commit(ctx, func(ctx context.Context) (*hub.ChangeEvent, error) {
		if _, err := d.store.List(ctx, req.Resource); err != nil {
			return nil, storeFailure("failed to bulk delete "+req.Resource, err, store.ErrUnknownResource)
		}

		var failed []error
		for _, id := range ids {
			if id == nil {
				continue
			}
			if _, err := d.store.Remove(ctx, req.Resource, *id); err != nil {
				d.logger.Error("bulk delete item failed",
					"resource", req.Resource,
					"id", *id,
					"error", err.Error(),
				)
				failed = append(failed, fmt.Errorf("id %d: %w", *id, err))
			}
		}

		rest, err := d.store.List(ctx, req.Resource)
		if err != nil {
			d.logger.Error("failed to list collection after bulk delete",
				"resource", req.Resource,
				"error", err.Error(),
			)
			rest = nil
		}

		ev := &hub.ChangeEvent{
			Type:     hub.KindBulkDeleted,
			Resource: req.Resource,
			Path:     "/bulk/" + req.Resource,
			IDs:      ids,
			Data:     rest,
		}
		if len(failed) > 0 {
			return ev, fmt.Errorf("failed to delete %d of %d %s: %w: %w",
				len(failed), len(ids), req.Resource, ErrStoreFailure, errors.Join(failed...))
		}
		return ev, nil
	})
	if err != nil && errors.Is(err, store.ErrUnknownResource) {
		return BulkResult{}, err
	}
	return result, err
}

// parseIDs decodes a JSON array of identifiers. Order and duplicates are
// kept; uncoercible entries become nil.
func parseIDs(raw json.RawMessage) ([]*int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, invalid("ids must be an array")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var values []any
	if err := dec.Decode(&values); err != nil {
		return nil, invalid("ids must be an array")
	}

	ids := make([]*int64, len(values))
	for i, v := range values {
		if id, ok := store.CoerceID(v); ok {
			ids[i] = &id
		}
	}
	return ids, nil
}
