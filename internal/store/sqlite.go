package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// SQLiteStore implements Repository using modernc.org/sqlite.
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS resolved_entities (
	id             TEXT PRIMARY KEY,
	entity_type    TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	needs_review   INTEGER NOT NULL DEFAULT 0,
	entity         TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS attribution_records (
	id              TEXT PRIMARY KEY,
	work_entity_id  TEXT NOT NULL,
	version         INTEGER NOT NULL,
	confidence      REAL NOT NULL,
	review_priority REAL NOT NULL DEFAULT 0,
	needs_review    INTEGER NOT NULL DEFAULT 0,
	record          TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (work_entity_id, version)
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON resolved_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_review ON resolved_entities(needs_review);
CREATE INDEX IF NOT EXISTS idx_attr_work ON attribution_records(work_entity_id);
CREATE INDEX IF NOT EXISTS idx_attr_review ON attribution_records(needs_review, review_priority);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) StoreEntities(ctx context.Context, entities []model.ResolvedEntity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, entity := range entities {
		payload, err := json.Marshal(entity)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal entity %s", entity.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO resolved_entities (id, entity_type, canonical_name, needs_review, entity)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   entity_type = excluded.entity_type,
			   canonical_name = excluded.canonical_name,
			   needs_review = excluded.needs_review,
			   entity = excluded.entity`,
			entity.ID, string(entity.Type), entity.CanonicalName, boolToInt(entity.NeedsReview), string(payload),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert entity %s", entity.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit entities")
}

func (s *SQLiteStore) FindEntity(ctx context.Context, id string) (*model.ResolvedEntity, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT entity FROM resolved_entities WHERE id = ?`, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find entity %s", id)
	}
	var entity model.ResolvedEntity
	if err := json.Unmarshal([]byte(payload), &entity); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal entity %s", id)
	}
	return &entity, nil
}

// StoreAttribution inserts the record, superseding any existing version for
// the same work. The caller's record is updated in place with the assigned
// version and supersede provenance.
func (s *SQLiteStore) StoreAttribution(ctx context.Context, record *model.AttributionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM attribution_records WHERE work_entity_id = ?`,
		record.WorkEntityID,
	).Scan(&latest)
	if err != nil {
		return eris.Wrapf(err, "sqlite: latest version for %s", record.WorkEntityID)
	}

	applySupersede(record, latest.Valid, int(latest.Int64), time.Now().UTC())

	payload, err := json.Marshal(record)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal record %s", record.ID)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attribution_records
		   (id, work_entity_id, version, confidence, review_priority, needs_review, record, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.WorkEntityID, record.Version, record.ConfidenceScore,
		record.ReviewPriority, boolToInt(record.NeedsReview), string(payload),
		record.CreatedAt.UTC(), record.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert record %s", record.ID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit record")
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*model.AttributionRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM attribution_records WHERE id = ?`, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find record %s", id)
	}
	return unmarshalRecord(payload)
}

func (s *SQLiteStore) FindByWorkEntityID(ctx context.Context, workEntityID string) ([]model.AttributionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM attribution_records WHERE work_entity_id = ? ORDER BY version DESC`,
		workEntityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find by work %s", workEntityID)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) FindNeedsReview(ctx context.Context, limit int) ([]model.AttributionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM attribution_records WHERE needs_review = 1
		 ORDER BY review_priority DESC, updated_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find needs review")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// applySupersede bumps the record to the next version and appends supersede
// provenance when a prior version exists.
func applySupersede(record *model.AttributionRecord, hasPrior bool, latest int, now time.Time) {
	if !hasPrior {
		if record.Version == 0 {
			record.Version = 1
		}
		return
	}
	record.Version = latest + 1
	record.UpdatedAt = now
	record.Provenance = append(record.Provenance, model.NewSupersedeEvent(now, model.SupersedeDetail{
		PreviousVersion: latest,
	}))
}

func scanRecords(rows *sql.Rows) ([]model.AttributionRecord, error) {
	var out []model.AttributionRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		record, err := unmarshalRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func unmarshalRecord(payload string) (*model.AttributionRecord, error) {
	var record model.AttributionRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record")
	}
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
