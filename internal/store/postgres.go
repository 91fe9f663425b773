package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/schoolscope/extract-cli/internal/db"
	"github.com/schoolscope/extract-cli/internal/model"
	"github.com/schoolscope/extract-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths: insert on every extraction, rank lookup on every
// uniqueness check.
var preparedStatements = map[string]string{
	"insert_record": `INSERT INTO records (
		id, slug, year, fields, category_confidence, overall_confidence,
		errors, status, national_rank, national_rank_precision,
		state_rank, state_rank_precision, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
	"get_record":          pgSelectRecords + ` WHERE id = $1`,
	"list_by_key":         pgSelectRecords + ` WHERE slug = $1 AND year = $2 ORDER BY created_at`,
	"find_national_rank":  pgSelectRecords + ` WHERE national_rank = $1 AND national_rank_precision = $2 AND year = $3`,
	"find_state_rank":     pgSelectRecords + ` WHERE state_rank = $1 AND state_rank_precision = $2 AND year = $3`,
	"list_duplicate_keys": `SELECT slug, year FROM records GROUP BY slug, year HAVING COUNT(*) > 1`,
}

const pgSelectRecords = `SELECT id, slug, year, fields, category_confidence,
	overall_confidence, errors, status, created_at, updated_at FROM records`

const pgSelectDLQ = `SELECT id, path, slug, year, error, error_type, failed_phase,
	retry_count, max_retries, next_retry_at, created_at, last_failed_at
	FROM dead_letter_queue`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id                      TEXT PRIMARY KEY,
	slug                    TEXT NOT NULL,
	year                    INTEGER NOT NULL,
	fields                  JSONB NOT NULL,
	category_confidence     JSONB NOT NULL,
	overall_confidence      DOUBLE PRECISION NOT NULL,
	errors                  JSONB,
	status                  TEXT NOT NULL,
	national_rank           INTEGER,
	national_rank_precision TEXT,
	state_rank              INTEGER,
	state_rank_precision    TEXT,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_records_key ON records(slug, year);
CREATE INDEX IF NOT EXISTS idx_records_national_rank ON records(national_rank, national_rank_precision);
CREATE INDEX IF NOT EXISTS idx_records_state_rank ON records(state_rank, state_rank_precision);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	path           TEXT NOT NULL,
	slug           TEXT NOT NULL,
	year           INTEGER NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	failed_phase   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	last_failed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *model.ExtractedRecord) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (
			id, slug, year, fields, category_confidence, overall_confidence,
			errors, status, national_rank, national_rank_precision,
			state_rank, state_rank_precision, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		row.id, row.slug, row.year, row.fields, row.categories, row.overall,
		nullString(row.errs), row.status, nullInt(row.nationalRank), nullString(row.nationalPrecision),
		nullInt(row.stateRank), nullString(row.statePrecision), row.createdAt, row.updatedAt,
	)
	return eris.Wrapf(err, "postgres: insert record %s", rec.ID)
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.ExtractedRecord, error) {
	rows, err := s.pool.Query(ctx, pgSelectRecords+` WHERE id = $1`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *PostgresStore) ListByNaturalKey(ctx context.Context, key model.NaturalKey) ([]model.ExtractedRecord, error) {
	rows, err := s.pool.Query(ctx,
		pgSelectRecords+` WHERE slug = $1 AND year = $2 ORDER BY created_at`, key.Slug, key.Year)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records %s/%d", key.Slug, key.Year)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) FindByExactRank(ctx context.Context, scope model.RankScope, rank, year int) ([]model.ExtractedRecord, error) {
	col, precCol := rankColumns(scope)
	rows, err := s.pool.Query(ctx,
		pgSelectRecords+` WHERE `+col+` = $1 AND `+precCol+` = $2 AND year = $3`, rank, string(model.PrecisionExact), year)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find %s rank %d", scope, rank)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) ListDuplicateKeys(ctx context.Context) ([]model.NaturalKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT slug, year FROM records GROUP BY slug, year HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list duplicate keys")
	}
	defer rows.Close()

	var keys []model.NaturalKey
	for rows.Next() {
		var k model.NaturalKey
		if err := rows.Scan(&k.Slug, &k.Year); err != nil {
			return nil, eris.Wrap(err, "postgres: scan duplicate key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "postgres: iterate duplicate keys")
}

func (s *PostgresStore) DeleteRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin delete")
	}
	defer tx.Rollback(ctx)

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	tag, err := tx.Exec(ctx, `DELETE FROM records WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return eris.Wrap(err, "postgres: delete records")
	}
	if int(tag.RowsAffected()) != len(ids) {
		return eris.Errorf("postgres: delete expected %d rows, affected %d", len(ids), tag.RowsAffected())
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit delete")
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.RecordStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.RecordStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.RecordStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate status counts")
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	prepareDLQEntry(&entry)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue (
			id, path, slug, year, error, error_type, failed_phase,
			retry_count, max_retries, next_retry_at, created_at, last_failed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			error = $5, error_type = $6, failed_phase = $7, retry_count = $8,
			next_retry_at = $10, last_failed_at = $12`,
		entry.ID, entry.Path, entry.Slug, entry.Year, entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: enqueue dlq %s", entry.Path)
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := pgSelectDLQ
	var args []any
	argIdx := 1
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` WHERE error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at LIMIT $%d`, argIdx)
	args = append(args, dlqLimit(filter))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedPhase *string
		if err := rows.Scan(&e.ID, &e.Path, &e.Slug, &e.Year, &e.Error, &e.ErrorType,
			&failedPhase, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if failedPhase != nil {
			e.FailedPhase = *failedPhase
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate dlq")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: remove dlq %s", id)
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func collectRecords(rows pgx.Rows) ([]model.ExtractedRecord, error) {
	defer rows.Close()

	var recs []model.ExtractedRecord
	for rows.Next() {
		var rec model.ExtractedRecord
		var fieldsJSON, catJSON []byte
		var errsJSON []byte
		var status string

		err := rows.Scan(&rec.ID, &rec.Key.Slug, &rec.Key.Year, &fieldsJSON, &catJSON,
			&rec.OverallConfidence, &errsJSON, &status, &rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}

		rec.Status = model.RecordStatus(status)
		if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal fields %s", rec.ID)
		}
		if err := json.Unmarshal(catJSON, &rec.CategoryConfidence); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal categories %s", rec.ID)
		}
		if len(errsJSON) > 0 {
			if err := json.Unmarshal(errsJSON, &rec.Errors); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal errors %s", rec.ID)
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: iterate records")
	}
	return recs, nil
}

func nullString(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}

func nullInt(ni sql.NullInt64) any {
	if ni.Valid {
		return ni.Int64
	}
	return nil
}
