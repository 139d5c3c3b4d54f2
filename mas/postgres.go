package mas

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/nci/eows/coverages"
	"github.com/nci/eows/metrics"
)

// Schema is the table read by PostgresStore. The bbox columns hold the
// EPSG:4326 footprint bbox and are null for records without one.
const Schema = `
create table if not exists eo_records (
	identifier text primary key,
	kind text not null,
	begin_time timestamptz,
	end_time timestamptz,
	minx float8, miny float8, maxx float8, maxy float8,
	record jsonb not null
);
create index if not exists eo_records_time on eo_records (begin_time, end_time);
`

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn with pool idle and limit open connections.
func NewPostgresStore(dsn string, pool, limit int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if pool > 0 {
		db.SetMaxIdleConns(pool)
	}
	if limit > 0 {
		db.SetMaxOpenConns(limit)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Record(ctx context.Context, id string) (*coverages.Record, error) {
	metrics.IncStoreLookup("postgres")

	var payload []byte
	err := s.db.QueryRowContext(ctx, `select record from eo_records where identifier = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record '%s': %w", id, err)
	}

	var rec coverages.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("record '%s': %w", id, err)
	}
	return &rec, nil
}

func (s *PostgresStore) Identifiers(ctx context.Context, kinds ...string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select identifier from eo_records
		where cardinality($1::text[]) = 0 or kind = any($1)
		order by identifier`,
		pq.Array(kinds),
	)
	if err != nil {
		return nil, err
	}
	return scanIdentifiers(rows)
}

// Intersects passes unbounded dimensions as null arguments or empty
// arrays; a zero limit becomes null, which returns all rows.
func (s *PostgresStore) Intersects(ctx context.Context, q Query) ([]string, error) {
	var begin, end sql.NullTime
	if !q.Begin.IsZero() {
		begin = sql.NullTime{Time: q.Begin, Valid: true}
	}
	if !q.End.IsZero() {
		end = sql.NullTime{Time: q.End, Valid: true}
	}
	var bbox []float64
	if q.BBox != nil {
		bbox = q.BBox[:]
	}

	rows, err := s.db.QueryContext(ctx,
		`select identifier from eo_records
		where ($1::timestamptz is null or end_time >= $1)
		and ($2::timestamptz is null or begin_time <= $2)
		and (cardinality($3::float8[]) = 0 or
			(maxx >= ($3::float8[])[1] and maxy >= ($3::float8[])[2] and
			 minx <= ($3::float8[])[3] and miny <= ($3::float8[])[4]))
		and (cardinality($4::text[]) = 0 or kind = any($4))
		order by begin_time, identifier
		limit nullif($5::int, 0)`,
		begin, end, pq.Array(bbox), pq.Array(q.Kinds), q.Limit,
	)
	if err != nil {
		return nil, err
	}
	return scanIdentifiers(rows)
}

func scanIdentifiers(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Upsert writes records in one transaction, replacing existing records
// with the same identifier.
func (s *PostgresStore) Upsert(ctx context.Context, records []coverages.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`insert into eo_records (identifier, kind, begin_time, end_time, minx, miny, maxx, maxy, record)
		values ($1, $2, nullif($3,'')::timestamptz, nullif($4,'')::timestamptz, $5, $6, $7, $8, $9)
		on conflict (identifier) do update set
			kind = excluded.kind, begin_time = excluded.begin_time, end_time = excluded.end_time,
			minx = excluded.minx, miny = excluded.miny, maxx = excluded.maxx, maxy = excluded.maxy,
			record = excluded.record`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		var b [4]sql.NullFloat64
		if bbox, ok := recordBBox(r); ok {
			for j := range b {
				b[j] = sql.NullFloat64{Float64: bbox[j], Valid: true}
			}
		}
		endTime := r.EndTime
		if len(endTime) == 0 {
			endTime = r.BeginTime
		}
		_, err = stmt.ExecContext(ctx, r.Identifier, kindOf(r), r.BeginTime, endTime, b[0], b[1], b[2], b[3], payload)
		if err != nil {
			return fmt.Errorf("upsert '%s': %w", r.Identifier, err)
		}
	}
	return tx.Commit()
}

// CreateSchema creates the eo_records table if it is missing.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
