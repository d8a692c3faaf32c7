package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/store"
)

// BoxStore implements store.BoxStore on top of database/sql.
type BoxStore struct {
	db      store.DBTX
	dialect Dialect
	logger  *slog.Logger
}

// NewBoxStore creates a BoxStore. db may be a *sql.DB or a *sql.Tx.
// If logger is nil, a default logger will be used.
func NewBoxStore(db store.DBTX, dialect Dialect, logger *slog.Logger) *BoxStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BoxStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With(slog.String("component", "box_store")),
	}
}

// Ensure BoxStore implements store.BoxStore interface
var _ store.BoxStore = (*BoxStore)(nil)

const boxColumns = `id, user_id, name, daily_new_card_limit, created_at, updated_at`

func scanBox(row interface{ Scan(...any) error }) (*domain.Box, error) {
	var b domain.Box
	if err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.DailyNewCardLimit, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// Create implements store.BoxStore.Create.
func (s *BoxStore) Create(ctx context.Context, box *domain.Box) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := box.Validate(); err != nil {
		log.Warn("box validation failed during create",
			slog.String("error", err.Error()),
			slog.String("box_id", box.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := s.dialect.Rebind(`
		INSERT INTO boxes (` + boxColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		box.ID, box.UserID, box.Name, box.DailyNewCardLimit,
		box.CreatedAt.UTC(), box.UpdatedAt.UTC(),
	)
	if err != nil {
		log.Error("failed to create box",
			slog.String("error", err.Error()),
			slog.String("box_id", box.ID.String()),
			slog.String("user_id", box.UserID.String()))
		return store.NewStoreError("box", "create", "insert failed", MapError(err))
	}

	log.Debug("box created",
		slog.String("box_id", box.ID.String()),
		slog.String("user_id", box.UserID.String()))
	return nil
}

// GetByID implements store.BoxStore.GetByID.
func (s *BoxStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Box, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := s.dialect.Rebind(`SELECT ` + boxColumns + ` FROM boxes WHERE id = ?`)
	box, err := scanBox(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("box not found", slog.String("box_id", id.String()))
			return nil, store.ErrBoxNotFound
		}
		log.Error("failed to get box",
			slog.String("error", err.Error()),
			slog.String("box_id", id.String()))
		return nil, store.NewStoreError("box", "get", "query failed", MapError(err))
	}
	return box, nil
}

// ListByUser implements store.BoxStore.ListByUser.
func (s *BoxStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Box, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := s.dialect.Rebind(`
		SELECT ` + boxColumns + ` FROM boxes
		WHERE user_id = ?
		ORDER BY created_at, id
	`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		log.Error("failed to list boxes",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, store.NewStoreError("box", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	boxes := make([]*domain.Box, 0)
	for rows.Next() {
		box, err := scanBox(rows)
		if err != nil {
			return nil, store.NewStoreError("box", "list", "scan failed", err)
		}
		boxes = append(boxes, box)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("box", "list", "iteration failed", MapError(err))
	}
	return boxes, nil
}

// Update implements store.BoxStore.Update.
func (s *BoxStore) Update(ctx context.Context, box *domain.Box) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := box.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	box.UpdatedAt = time.Now().UTC()

	query := s.dialect.Rebind(`
		UPDATE boxes SET name = ?, daily_new_card_limit = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query, box.Name, box.DailyNewCardLimit, box.UpdatedAt, box.ID)
	if err != nil {
		log.Error("failed to update box",
			slog.String("error", err.Error()),
			slog.String("box_id", box.ID.String()))
		return store.NewStoreError("box", "update", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrBoxNotFound)
}

// DeleteWithCards implements store.BoxStore.DeleteWithCards.
func (s *BoxStore) DeleteWithCards(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var removedCards int64
	err := store.InTransaction(ctx, s.db, func(ctx context.Context, tx store.DBTX) error {
		res, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM cards WHERE box_id = ?`), id)
		if err != nil {
			return MapError(err)
		}
		removedCards, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM boxes WHERE id = ?`), id)
		if err != nil {
			return MapError(err)
		}
		return CheckRowsAffected(res, store.ErrBoxNotFound)
	})
	if err != nil {
		if !store.IsNotFoundError(err) {
			log.Error("failed to delete box",
				slog.String("error", err.Error()),
				slog.String("box_id", id.String()))
		}
		return err
	}

	log.Info("box deleted",
		slog.String("box_id", id.String()),
		slog.Int64("cards_removed", removedCards))
	return nil
}

// WithTx implements store.BoxStore.WithTx.
func (s *BoxStore) WithTx(tx *sql.Tx) store.BoxStore {
	return &BoxStore{db: tx, dialect: s.dialect, logger: s.logger}
}
