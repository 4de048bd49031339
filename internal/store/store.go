package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when a record id does not exist in a resource.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownResource is returned when the resource name has no collection.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrConflict is returned when an insert carries an id that is already taken.
	ErrConflict = errors.New("record id already exists")
)

// Record is a single JSON object stored in a resource collection.
//
// The "id" field is always an int64 once the record has passed through a
// store. All other fields are opaque to the store.
type Record map[string]any

// ID returns the record's numeric id, if it has one.
func (r Record) ID() (int64, bool) {
	v, ok := r["id"]
	if !ok {
		return 0, false
	}
	return CoerceID(v)
}

// Clone returns a shallow copy of the record.
//
// Nested values are shared. Stores never mutate nested values in place, so a
// shallow copy is enough to keep callers from changing stored state.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Snapshot is the full state of every resource, keyed by resource name.
//
// It marshals to the db.json shape:
// {"users": [...], "roles": [...]}.
type Snapshot map[string][]Record

// Store defines the record store contract consumed by the mutation layer.
//
// Store implementations must be safe for concurrent access. Returned records
// are copies; modifying them does not affect the store.
type Store interface {
	// Resources returns the sorted names of all known resources.
	Resources(ctx context.Context) ([]string, error)

	// Get returns a single record, or ErrNotFound.
	Get(ctx context.Context, resource string, id int64) (Record, error)

	// List returns every record in a resource.
	List(ctx context.Context, resource string) ([]Record, error)

	// Insert adds a record. A record without an id is assigned the next free id.
	// A record whose id already exists fails with ErrConflict.
	Insert(ctx context.Context, resource string, rec Record) (Record, error)

	// Update merges patch into an existing record. The id cannot be changed.
	Update(ctx context.Context, resource string, id int64, patch Record) (Record, error)

	// Replace swaps the whole record body, keeping its id.
	Replace(ctx context.Context, resource string, id int64, rec Record) (Record, error)

	// Remove deletes a record and reports whether it existed.
	// Removing an absent id is not an error.
	Remove(ctx context.Context, resource string, id int64) (bool, error)

	// Snapshot returns the full state of every resource.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Close releases resources held by the store.
	Close() error
}

// CoerceID converts an identifier value to the store's int64 id type.
//
// Accepted inputs are integral numbers (any Go integer, integral float64,
// json.Number) and strings holding an integral number, with surrounding
// whitespace ignored. Everything else, including booleans, fractions, empty
// strings and nested values, fails.
func CoerceID(v any) (int64, bool) {
	switch id := v.(type) {
	case int:
		return int64(id), true
	case int32:
		return int64(id), true
	case int64:
		return id, true
	case uint32:
		return int64(id), true
	case float64:
		return floatID(id)
	case json.Number:
		return parseID(id.String())
	case string:
		return parseID(id)
	default:
		return 0, false
	}
}

func parseID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatID(f)
}

func floatID(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// DecodeRecord parses a JSON object into a [Record].
//
// Numbers are kept as json.Number so large integers survive the round trip,
// and a coercible "id" is normalised to int64.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if rec == nil {
		return nil, errors.New("record must be a JSON object")
	}
	if id, ok := rec.ID(); ok {
		rec["id"] = id
	}
	return rec, nil
}
