package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
)

// BoxStore defines the interface for box data persistence.
type BoxStore interface {
	// Create saves a new box. Returns validation errors if the box is invalid.
	Create(ctx context.Context, box *domain.Box) error

	// GetByID retrieves a box by its ID regardless of owner.
	// Returns ErrBoxNotFound if the box does not exist. Ownership checks are
	// the caller's responsibility so that "not found" and "not yours" can be
	// told apart.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Box, error)

	// ListByUser returns the user's boxes ordered by creation time.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Box, error)

	// Update persists the box's name and daily new card limit.
	// Returns ErrBoxNotFound if the box does not exist.
	Update(ctx context.Context, box *domain.Box) error

	// DeleteWithCards removes the box and every card in it as one atomic
	// operation. When the store wraps a *sql.DB a transaction is opened;
	// when it wraps a transaction the deletion joins it.
	// Returns ErrBoxNotFound if the box does not exist.
	DeleteWithCards(ctx context.Context, id uuid.UUID) error

	// WithTx returns a BoxStore that runs every call inside tx.
	WithTx(tx *sql.Tx) BoxStore
}
