package hub

import "encoding/json"

// Kind identifies what a [ChangeEvent] describes.
type Kind string

const (
	// KindInitial carries the full store state to a newly registered subscriber.
	KindInitial Kind = "INITIAL"

	// KindCreated follows a successful insert.
	KindCreated Kind = "CREATED"

	// KindUpdated follows a successful update or replace.
	KindUpdated Kind = "UPDATED"

	// KindDeleted follows a successful single-record remove.
	KindDeleted Kind = "DELETED"

	// KindBulkDeleted follows a multi-id delete against one resource.
	KindBulkDeleted Kind = "BULK_DELETED"
)

// ChangeEvent describes one committed mutation, or the initial snapshot.
//
// Data holds the post-mutation record for CREATED and UPDATED, and the
// post-delete collection for DELETED and BULK_DELETED. IDs has one entry per
// requested id of a bulk delete, nil where the request held something that
// is not an id. Seq is assigned by the [Broadcaster] and increases by one per
// published event.
type ChangeEvent struct {
	Type     Kind
	Resource string
	Path     string
	ID       *int64
	IDs      []*int64
	Data     any
	Seq      uint64
}

// Topic returns the key clients use to route the event, the resource name.
func (e ChangeEvent) Topic() string {
	return e.Resource
}

// MarshalJSON encodes the event as {type, resource?, path?, id?, ids?, data, seq}.
//
// ids is present (possibly as []) whenever the event is a bulk event, and
// omitted otherwise.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	var ids any
	if e.IDs != nil || e.Type == KindBulkDeleted {
		ids = e.IDs
		if e.IDs == nil {
			ids = []*int64{}
		}
	}

	return json.Marshal(struct {
		Type     Kind   `json:"type"`
		Resource string `json:"resource,omitempty"`
		Path     string `json:"path,omitempty"`
		ID       *int64 `json:"id,omitempty"`
		IDs      any    `json:"ids,omitempty"`
		Data     any    `json:"data"`
		Seq      uint64 `json:"seq"`
	}{
		Type:     e.Type,
		Resource: e.Resource,
		Path:     e.Path,
		ID:       e.ID,
		IDs:      ids,
		Data:     e.Data,
		Seq:      e.Seq,
	})
}

// FrameKind distinguishes event frames from heartbeats.
type FrameKind int

const (
	// FrameEvent carries an encoded ChangeEvent.
	FrameEvent FrameKind = iota

	// FrameHeartbeat carries no payload; transports render it as a comment or ping.
	FrameHeartbeat
)

// Frame is one unit queued for a subscriber's transport.
type Frame struct {
	Kind    FrameKind
	Seq     uint64
	Topic   string
	Payload []byte
}
