package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/troubadour-labs/attribution-cli/internal/db"
	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// PostgresStore implements Repository using pgxpool.
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
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"latest_version":     `SELECT MAX(version) FROM attribution_records WHERE work_entity_id = $1`,
	"insert_attribution": `INSERT INTO attribution_records (id, work_entity_id, version, confidence, review_priority, needs_review, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_attribution":    `SELECT record FROM attribution_records WHERE id = $1`,
	"get_entity":         `SELECT entity FROM resolved_entities WHERE id = $1`,
}

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
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS resolved_entities (
	id             TEXT PRIMARY KEY,
	entity_type    TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	needs_review   BOOLEAN NOT NULL DEFAULT FALSE,
	entity         JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attribution_records (
	id              TEXT PRIMARY KEY,
	work_entity_id  TEXT NOT NULL,
	version         INTEGER NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	review_priority DOUBLE PRECISION NOT NULL DEFAULT 0,
	needs_review    BOOLEAN NOT NULL DEFAULT FALSE,
	record          JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (work_entity_id, version)
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON resolved_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_review ON resolved_entities(needs_review);
CREATE INDEX IF NOT EXISTS idx_attr_work ON attribution_records(work_entity_id);
CREATE INDEX IF NOT EXISTS idx_attr_review ON attribution_records(needs_review, review_priority DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

var entityColumns = []string{"id", "entity_type", "canonical_name", "needs_review", "entity"}

// StoreEntities bulk-upserts resolved entities keyed by id.
func (s *PostgresStore) StoreEntities(ctx context.Context, entities []model.ResolvedEntity) error {
	rows := make([][]any, 0, len(entities))
	for _, entity := range entities {
		payload, err := json.Marshal(entity)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal entity %s", entity.ID)
		}
		rows = append(rows, []any{entity.ID, string(entity.Type), entity.CanonicalName, entity.NeedsReview, payload})
	}
	_, err := db.BulkUpsert(ctx, s.pool, "resolved_entities", entityColumns, []string{"id"}, rows)
	return eris.Wrap(err, "postgres: upsert entities")
}

func (s *PostgresStore) FindEntity(ctx context.Context, id string) (*model.ResolvedEntity, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT entity FROM resolved_entities WHERE id = $1`, id,
	).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find entity %s", id)
	}
	var entity model.ResolvedEntity
	if err := json.Unmarshal(payload, &entity); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal entity %s", id)
	}
	return &entity, nil
}

// StoreAttribution inserts the record, superseding any existing version for
// the same work. The caller's record is updated in place with the assigned
// version and supersede provenance.
func (s *PostgresStore) StoreAttribution(ctx context.Context, record *model.AttributionRecord) error {
	var latest sql.NullInt64
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(version) FROM attribution_records WHERE work_entity_id = $1`,
		record.WorkEntityID,
	).Scan(&latest)
	if err != nil {
		return eris.Wrapf(err, "postgres: latest version for %s", record.WorkEntityID)
	}

	applySupersede(record, latest.Valid, int(latest.Int64), time.Now().UTC())

	payload, err := json.Marshal(record)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal record %s", record.ID)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attribution_records (id, work_entity_id, version, confidence, review_priority, needs_review, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.WorkEntityID, record.Version, record.ConfidenceScore,
		record.ReviewPriority, record.NeedsReview, payload,
		record.CreatedAt.UTC(), record.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert record %s", record.ID)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*model.AttributionRecord, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM attribution_records WHERE id = $1`, id,
	).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find record %s", id)
	}
	return unmarshalRecord(string(payload))
}

func (s *PostgresStore) FindByWorkEntityID(ctx context.Context, workEntityID string) ([]model.AttributionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM attribution_records WHERE work_entity_id = $1 ORDER BY version DESC`,
		workEntityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find by work %s", workEntityID)
	}
	defer rows.Close()
	return scanPgxRecords(rows)
}

func (s *PostgresStore) FindNeedsReview(ctx context.Context, limit int) ([]model.AttributionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM attribution_records WHERE needs_review ORDER BY review_priority DESC, updated_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find needs review")
	}
	defer rows.Close()
	return scanPgxRecords(rows)
}

func scanPgxRecords(rows pgx.Rows) ([]model.AttributionRecord, error) {
	var out []model.AttributionRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		record, err := unmarshalRecord(string(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}
