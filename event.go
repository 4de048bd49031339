package livestore

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/jpalmerr/livestore/internal/hub"
	"github.com/jpalmerr/livestore/internal/store"
)

// EventKind identifies what a [ChangeEvent] describes.
type EventKind string

// Change event kinds, as they appear in the "type" field on the wire.
const (
	EventCreated     EventKind = "CREATED"
	EventUpdated     EventKind = "UPDATED"
	EventDeleted     EventKind = "DELETED"
	EventBulkDeleted EventKind = "BULK_DELETED"
)

// ChangeEvent is one committed mutation, as passed to callbacks registered
// with [WithChangeCallback].
//
// Callbacks see exactly the events subscribers see, in the same order. The
// INITIAL snapshot is per subscriber and is never passed to callbacks.
type ChangeEvent struct {
	// Kind is the type of mutation.
	Kind EventKind

	// Resource is the collection that changed, e.g. "users".
	Resource string

	// Path is the request path the mutation was made through.
	Path string

	// ID is the affected record id for single-record events; nil otherwise.
	ID *int64

	// IDs holds the ids a bulk delete targeted, in request order. An entry
	// is nil when the request held a value that is not an id.
	IDs []*int64

	// Data is the written record for CREATED and UPDATED, and the remaining
	// collection for DELETED and BULK_DELETED. Records are map[string]any.
	Data any

	// Seq is the broadcast sequence number. It increases by one per event.
	Seq uint64
}

// toPublicEvent converts an internal event to the public API type.
// Creates defensive copies of mutable fields so callbacks cannot race
// subscribers or each other.
func toPublicEvent(ev hub.ChangeEvent) ChangeEvent {
	out := ChangeEvent{
		Kind:     EventKind(ev.Type),
		Resource: ev.Resource,
		Path:     ev.Path,
		Data:     copyData(ev.Data),
		Seq:      ev.Seq,
	}
	if ev.ID != nil {
		id := *ev.ID
		out.ID = &id
	}
	if ev.IDs != nil {
		out.IDs = make([]*int64, len(ev.IDs))
		for i, id := range ev.IDs {
			if id != nil {
				v := *id
				out.IDs[i] = &v
			}
		}
	}
	return out
}

// copyData clones records and record lists into plain maps.
func copyData(data any) any {
	switch v := data.(type) {
	case store.Record:
		return map[string]any(v.Clone())
	case []store.Record:
		out := make([]map[string]any, len(v))
		for i, rec := range v {
			out[i] = map[string]any(rec.Clone())
		}
		return out
	default:
		return data
	}
}

// invokeCallbackSafe calls a change callback with panic recovery.
// Panics are logged with a correlation ID but do not propagate.
func invokeCallbackSafe(cb func(ChangeEvent), ev ChangeEvent, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("change callback panicked",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"kind", ev.Kind,
				"resource", ev.Resource,
				"seq", ev.Seq,
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(ev)
}
