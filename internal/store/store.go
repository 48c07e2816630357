package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// Repository defines the persistence contract the engine produces into.
// Attribution records are append-only: storing a new record for a work that
// already has one inserts a superseding version rather than overwriting.
type Repository interface {
	// Resolved entities
	StoreEntities(ctx context.Context, entities []model.ResolvedEntity) error
	FindEntity(ctx context.Context, id string) (*model.ResolvedEntity, error)

	// Attribution records
	StoreAttribution(ctx context.Context, record *model.AttributionRecord) error
	FindByID(ctx context.Context, id string) (*model.AttributionRecord, error)
	FindByWorkEntityID(ctx context.Context, workEntityID string) ([]model.AttributionRecord, error)
	FindNeedsReview(ctx context.Context, limit int) ([]model.AttributionRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
