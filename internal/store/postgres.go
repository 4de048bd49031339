package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a [Store] persisted in Postgres.
//
// Each record is one row of the records table, keyed by (resource, id), with
// the full record body in a JSONB column. The schema is created by [Migrate].
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and verifies the connection.
//
// The caller must run [Migrate] before the store is used and call
// [PostgresStore.Close] when done.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Load creates every resource in data and seeds the ones that are still empty.
//
// Collections that already hold rows are left alone, so restarting a server
// with the same seed does not overwrite persisted changes.
func (p *PostgresStore) Load(ctx context.Context, data Snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := tx.Exec(ctx, `INSERT INTO resources (name) VALUES ($1) ON CONFLICT DO NOTHING`, name); err != nil {
			return fmt.Errorf("failed to create resource %q: %w", name, err)
		}

		var count int64
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM records WHERE resource = $1`, name).Scan(&count); err != nil {
			return fmt.Errorf("failed to count %q: %w", name, err)
		}
		if count > 0 {
			continue
		}

		for _, rec := range data[name] {
			if _, err := p.insert(ctx, tx, name, rec); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}

// Resources returns the sorted resource names.
func (p *PostgresStore) Resources(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT name FROM resources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return names, nil
}

// Get returns a single record.
func (p *PostgresStore) Get(ctx context.Context, resource string, id int64) (Record, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE resource = $1 AND id = $2`, resource, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.missing(ctx, p.pool, resource, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%d: %w", resource, id, err)
	}
	return decodeRow(id, data)
}

// List returns every record of a resource ordered by id.
func (p *PostgresStore) List(ctx context.Context, resource string) ([]Record, error) {
	if err := p.checkResource(ctx, p.pool, resource); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, data FROM records WHERE resource = $1 ORDER BY id`, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", resource, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", resource, err)
		}
		rec, err := decodeRow(id, data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", resource, err)
	}
	return records, nil
}

// Insert adds a record inside a transaction so id allocation cannot race.
func (p *PostgresStore) Insert(ctx context.Context, resource string, rec Record) (Record, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := p.checkResource(ctx, tx, resource); err != nil {
		return nil, err
	}

	// serialise id allocation per resource
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, resource); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", resource, err)
	}

	inserted, err := p.insert(ctx, tx, resource, rec)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit insert: %w", err)
	}
	return inserted, nil
}

func (p *PostgresStore) insert(ctx context.Context, q querier, resource string, rec Record) (Record, error) {
	rec = rec.Clone()
	if rec == nil {
		rec = Record{}
	}

	id, ok := rec.ID()
	if !ok {
		if err := q.QueryRow(ctx,
			`SELECT COALESCE(MAX(id), 0) + 1 FROM records WHERE resource = $1`, resource,
		).Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to allocate id in %s: %w", resource, err)
		}
	}
	rec["id"] = id

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	tag, err := q.Exec(ctx,
		`INSERT INTO records (resource, id, data) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		resource, id, data)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", resource, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%s/%d: %w", resource, id, ErrConflict)
	}
	return rec, nil
}

// Update merges patch into the stored JSONB body.
func (p *PostgresStore) Update(ctx context.Context, resource string, id int64, patch Record) (Record, error) {
	patch = patch.Clone()
	delete(patch, "id")
	return p.write(ctx, resource, id, patch,
		`UPDATE records SET data = data || $3::jsonb WHERE resource = $1 AND id = $2 RETURNING data`)
}

// Replace overwrites the stored JSONB body.
func (p *PostgresStore) Replace(ctx context.Context, resource string, id int64, rec Record) (Record, error) {
	rec = rec.Clone()
	if rec == nil {
		rec = Record{}
	}
	rec["id"] = id
	return p.write(ctx, resource, id, rec,
		`UPDATE records SET data = $3::jsonb WHERE resource = $1 AND id = $2 RETURNING data`)
}

func (p *PostgresStore) write(ctx context.Context, resource string, id int64, body Record, query string) (Record, error) {
	if body == nil {
		body = Record{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	var data []byte
	err = p.pool.QueryRow(ctx, query, resource, id, payload).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.missing(ctx, p.pool, resource, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s/%d: %w", resource, id, err)
	}
	return decodeRow(id, data)
}

// Remove deletes a record.
func (p *PostgresStore) Remove(ctx context.Context, resource string, id int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM records WHERE resource = $1 AND id = $2`, resource, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove %s/%d: %w", resource, id, err)
	}
	if tag.RowsAffected() == 0 {
		if err := p.checkResource(ctx, p.pool, resource); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Snapshot returns every resource in a single repeatable-read transaction.
func (p *PostgresStore) Snapshot(ctx context.Context) (Snapshot, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT name FROM resources`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	out := make(Snapshot, len(names))
	for _, name := range names {
		out[name] = []Record{}
	}

	rows, err = tx.Query(ctx, `SELECT resource, id, data FROM records ORDER BY resource, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			resource string
			id       int64
			data     []byte
		)
		if err := rows.Scan(&resource, &id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodeRow(id, data)
		if err != nil {
			return nil, err
		}
		out[resource] = append(out[resource], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return out, nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// missing distinguishes an unknown resource from an absent record.
func (p *PostgresStore) missing(ctx context.Context, q querier, resource string, id int64) error {
	if err := p.checkResource(ctx, q, resource); err != nil {
		return err
	}
	return fmt.Errorf("%s/%d: %w", resource, id, ErrNotFound)
}

func (p *PostgresStore) checkResource(ctx context.Context, q querier, resource string) error {
	var exists bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM resources WHERE name = $1)`, resource,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up resource %q: %w", resource, err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
	return nil
}

func decodeRow(id int64, data []byte) (Record, error) {
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	rec["id"] = id
	return rec, nil
}
