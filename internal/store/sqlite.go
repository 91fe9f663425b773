package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/schoolscope/extract-cli/internal/model"
	"github.com/schoolscope/extract-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id                      TEXT PRIMARY KEY,
	slug                    TEXT NOT NULL,
	year                    INTEGER NOT NULL,
	fields                  TEXT NOT NULL,
	category_confidence     TEXT NOT NULL,
	overall_confidence      REAL NOT NULL,
	errors                  TEXT,
	status                  TEXT NOT NULL,
	national_rank           INTEGER,
	national_rank_precision TEXT,
	state_rank              INTEGER,
	state_rank_precision    TEXT,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at              DATETIME NOT NULL DEFAULT (datetime('now'))
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
	next_retry_at  DATETIME,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *model.ExtractedRecord) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (
			id, slug, year, fields, category_confidence, overall_confidence,
			errors, status, national_rank, national_rank_precision,
			state_rank, state_rank_precision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.id, row.slug, row.year, row.fields, row.categories, row.overall,
		row.errs, row.status, row.nationalRank, row.nationalPrecision,
		row.stateRank, row.statePrecision, row.createdAt, row.updatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert record %s", rec.ID)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.ExtractedRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecords+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListByNaturalKey(ctx context.Context, key model.NaturalKey) ([]model.ExtractedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRecords+` WHERE slug = ? AND year = ? ORDER BY created_at`, key.Slug, key.Year)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records %s/%d", key.Slug, key.Year)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) FindByExactRank(ctx context.Context, scope model.RankScope, rank, year int) ([]model.ExtractedRecord, error) {
	col, precCol := rankColumns(scope)
	rows, err := s.db.QueryContext(ctx,
		selectRecords+` WHERE `+col+` = ? AND `+precCol+` = ? AND year = ?`, rank, string(model.PrecisionExact), year)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find %s rank %d", scope, rank)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) ListDuplicateKeys(ctx context.Context) ([]model.NaturalKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, year FROM records GROUP BY slug, year HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list duplicate keys")
	}
	defer rows.Close()

	var keys []model.NaturalKey
	for rows.Next() {
		var k model.NaturalKey
		if err := rows.Scan(&k.Slug, &k.Year); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan duplicate key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: iterate duplicate keys")
}

func (s *SQLiteStore) DeleteRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete")
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete records")
	}
	n, _ := res.RowsAffected()
	if int(n) != len(ids) {
		return eris.Errorf("sqlite: delete expected %d rows, affected %d", len(ids), n)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit delete")
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.RecordStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.RecordStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.RecordStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate status counts")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	prepareDLQEntry(&entry)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (
			id, path, slug, year, error, error_type, failed_phase,
			retry_count, max_retries, next_retry_at, created_at, last_failed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			error = excluded.error, error_type = excluded.error_type,
			failed_phase = excluded.failed_phase, retry_count = excluded.retry_count,
			next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.Path, entry.Slug, entry.Year, entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "sqlite: enqueue dlq %s", entry.Path)
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := selectDLQ
	var args []any
	if filter.ErrorType != "" {
		query += ` WHERE error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY created_at LIMIT ?`
	args = append(args, dlqLimit(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedPhase sql.NullString
		if err := rows.Scan(&e.ID, &e.Path, &e.Slug, &e.Year, &e.Error, &e.ErrorType,
			&failedPhase, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.FailedPhase = failedPhase.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate dlq")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: remove dlq %s", id)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

const selectRecords = `SELECT id, slug, year, fields, category_confidence,
	overall_confidence, errors, status, created_at, updated_at FROM records`

const selectDLQ = `SELECT id, path, slug, year, error, error_type, failed_phase,
	retry_count, max_retries, next_retry_at, created_at, last_failed_at
	FROM dead_letter_queue`

// prepareDLQEntry fills in the store-assigned parts of a quarantine entry:
// id when the caller leaves it empty, timestamps when zero.
func prepareDLQEntry(entry *resilience.DLQEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}
	if entry.NextRetryAt.IsZero() {
		entry.NextRetryAt = now
	}
}

func dlqLimit(filter resilience.DLQFilter) int {
	if filter.Limit > 0 {
		return filter.Limit
	}
	return 100
}

func rankColumns(scope model.RankScope) (rank, precision string) {
	if scope == model.ScopeState {
		return "state_rank", "state_rank_precision"
	}
	return "national_rank", "national_rank_precision"
}

// recordRow is the flattened column form shared by both store backends.
type recordRow struct {
	id, slug                          string
	year                              int
	fields, categories                string
	overall                           float64
	errs                              sql.NullString
	status                            string
	nationalRank, stateRank           sql.NullInt64
	nationalPrecision, statePrecision sql.NullString
	createdAt, updatedAt              time.Time
}

func encodeRecord(rec *model.ExtractedRecord) (*recordRow, error) {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal fields %s", rec.ID)
	}
	catJSON, err := json.Marshal(rec.CategoryConfidence)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal categories %s", rec.ID)
	}

	row := &recordRow{
		id:         rec.ID,
		slug:       rec.Key.Slug,
		year:       rec.Key.Year,
		fields:     string(fieldsJSON),
		categories: string(catJSON),
		overall:    rec.OverallConfidence,
		status:     string(rec.Status),
		createdAt:  rec.CreatedAt,
		updatedAt:  rec.UpdatedAt,
	}

	if len(rec.Errors) > 0 {
		errsJSON, err := json.Marshal(rec.Errors)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal errors %s", rec.ID)
		}
		row.errs = sql.NullString{String: string(errsJSON), Valid: true}
	}

	if rank, ok := rec.FieldInt("national_rank"); ok {
		row.nationalRank = sql.NullInt64{Int64: int64(rank), Valid: true}
		if p, ok := rec.FieldString("national_rank_precision"); ok {
			row.nationalPrecision = sql.NullString{String: p, Valid: true}
		}
	}
	if rank, ok := rec.FieldInt("state_rank"); ok {
		row.stateRank = sql.NullInt64{Int64: int64(rank), Valid: true}
		if p, ok := rec.FieldString("state_rank_precision"); ok {
			row.statePrecision = sql.NullString{String: p, Valid: true}
		}
	}

	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.ExtractedRecord, error) {
	var rec model.ExtractedRecord
	var fieldsJSON, catJSON string
	var errsJSON sql.NullString
	var status string

	err := row.Scan(&rec.ID, &rec.Key.Slug, &rec.Key.Year, &fieldsJSON, &catJSON,
		&rec.OverallConfidence, &errsJSON, &status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = model.RecordStatus(status)
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal fields %s", rec.ID)
	}
	if err := json.Unmarshal([]byte(catJSON), &rec.CategoryConfidence); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal categories %s", rec.ID)
	}
	if errsJSON.Valid {
		if err := json.Unmarshal([]byte(errsJSON.String), &rec.Errors); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal errors %s", rec.ID)
		}
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]model.ExtractedRecord, error) {
	var recs []model.ExtractedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "store: iterate records")
}
