package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/store"
)

// CardStore implements store.CardStore on top of database/sql.
type CardStore struct {
	db      store.DBTX
	dialect Dialect
	logger  *slog.Logger
}

// NewCardStore creates a CardStore. db may be a *sql.DB or a *sql.Tx.
// If logger is nil, a default logger will be used.
func NewCardStore(db store.DBTX, dialect Dialect, logger *slog.Logger) *CardStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CardStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With(slog.String("component", "card_store")),
	}
}

// Ensure CardStore implements store.CardStore interface
var _ store.CardStore = (*CardStore)(nil)

const cardColumns = `id, box_id, user_id, config, level, finished, next_review_at, created_at, updated_at`

// toMillis and fromMillis convert review times to the stored representation.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func scanCard(row interface{ Scan(...any) error }) (*domain.Card, error) {
	var (
		c        domain.Card
		raw      []byte
		nextAtMs int64
	)
	if err := row.Scan(&c.ID, &c.BoxID, &c.UserID, &raw, &c.Level, &c.Finished, &nextAtMs, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	cfg, err := domain.UnmarshalCardConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("card %s has an unreadable config: %w", c.ID, err)
	}
	c.Config = cfg
	c.NextReviewTime = fromMillis(nextAtMs)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *CardStore) insert(ctx context.Context, db store.DBTX, card *domain.Card) error {
	if err := card.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	raw, err := domain.MarshalCardConfig(card.Config)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := s.dialect.Rebind(`
		INSERT INTO cards (id, box_id, user_id, kind, config, level, finished, next_review_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = db.ExecContext(ctx, query,
		card.ID, card.BoxID, card.UserID, string(card.Config.Kind()), string(raw),
		card.Level, card.Finished, toMillis(card.NextReviewTime),
		card.CreatedAt.UTC(), card.UpdatedAt.UTC(),
	)
	if err != nil {
		return MapError(err)
	}
	return nil
}

// Create implements store.CardStore.Create.
func (s *CardStore) Create(ctx context.Context, card *domain.Card) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.insert(ctx, s.db, card); err != nil {
		log.Error("failed to create card",
			slog.String("error", err.Error()),
			slog.String("card_id", card.ID.String()),
			slog.String("box_id", card.BoxID.String()))
		return store.NewStoreError("card", "create", "insert failed", err)
	}
	log.Debug("card created",
		slog.String("card_id", card.ID.String()),
		slog.String("box_id", card.BoxID.String()))
	return nil
}

// CreateMultiple implements store.CardStore.CreateMultiple.
func (s *CardStore) CreateMultiple(ctx context.Context, cards []*domain.Card) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if len(cards) == 0 {
		return nil
	}

	err := store.InTransaction(ctx, s.db, func(ctx context.Context, tx store.DBTX) error {
		for i, card := range cards {
			if err := s.insert(ctx, tx, card); err != nil {
				return fmt.Errorf("card %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error("failed to create cards",
			slog.String("error", err.Error()),
			slog.Int("count", len(cards)))
		return store.NewStoreError("card", "create_multiple", "insert failed", err)
	}

	log.Debug("cards created", slog.Int("count", len(cards)))
	return nil
}

// GetByID implements store.CardStore.GetByID.
func (s *CardStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := s.dialect.Rebind(`SELECT ` + cardColumns + ` FROM cards WHERE id = ?`)
	card, err := scanCard(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("card not found", slog.String("card_id", id.String()))
			return nil, store.ErrCardNotFound
		}
		log.Error("failed to get card",
			slog.String("error", err.Error()),
			slog.String("card_id", id.String()))
		return nil, store.NewStoreError("card", "get", "query failed", MapError(err))
	}
	return card, nil
}

// QueryInBox implements store.CardStore.QueryInBox.
func (s *CardStore) QueryInBox(
	ctx context.Context,
	boxID, userID uuid.UUID,
	filter store.CardFilter,
) ([]*domain.Card, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		where = []string{"box_id = ?", "user_id = ?"}
		args  = []any{boxID, userID}
	)
	if filter.DueAt != nil {
		where = append(where, "next_review_at <= ?")
		args = append(args, toMillis(*filter.DueAt))
	}
	if filter.Level != nil {
		where = append(where, "level = ?")
		args = append(args, *filter.Level)
	}

	query := s.dialect.Rebind(fmt.Sprintf(
		`SELECT %s FROM cards WHERE %s ORDER BY next_review_at, %s`,
		cardColumns, strings.Join(where, " AND "), s.dialect.insertionOrder(),
	))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query cards",
			slog.String("error", err.Error()),
			slog.String("box_id", boxID.String()))
		return nil, store.NewStoreError("card", "query", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	cards := make([]*domain.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			log.Error("failed to scan card",
				slog.String("error", err.Error()),
				slog.String("box_id", boxID.String()))
			return nil, store.NewStoreError("card", "query", "scan failed", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("card", "query", "iteration failed", MapError(err))
	}
	return cards, nil
}

// UpdateConfig implements store.CardStore.UpdateConfig.
func (s *CardStore) UpdateConfig(ctx context.Context, id uuid.UUID, cfg domain.CardConfig) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	raw, err := domain.MarshalCardConfig(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := s.dialect.Rebind(`UPDATE cards SET kind = ?, config = ?, updated_at = ? WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, string(cfg.Kind()), string(raw), time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update card config",
			slog.String("error", err.Error()),
			slog.String("card_id", id.String()))
		return store.NewStoreError("card", "update_config", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrCardNotFound)
}

// BatchUpdate implements store.CardStore.BatchUpdate.
func (s *CardStore) BatchUpdate(ctx context.Context, updates []store.CardUpdate) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if len(updates) == 0 {
		return nil
	}

	query := s.dialect.Rebind(`
		UPDATE cards SET
			level = COALESCE(?, level),
			finished = COALESCE(?, finished),
			next_review_at = COALESCE(?, next_review_at),
			updated_at = ?
		WHERE id = ?
	`)
	now := time.Now().UTC()

	err := store.InTransaction(ctx, s.db, func(ctx context.Context, tx store.DBTX) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return MapError(err)
		}
		defer func() { _ = stmt.Close() }()

		for _, u := range updates {
			var level, finished, nextAt any
			if u.Level != nil {
				level = *u.Level
			}
			if u.Finished != nil {
				finished = *u.Finished
			}
			if u.NextReviewTime != nil {
				nextAt = toMillis(*u.NextReviewTime)
			}

			res, err := stmt.ExecContext(ctx, level, finished, nextAt, now, u.CardID)
			if err != nil {
				return MapError(err)
			}
			if err := CheckRowsAffected(res, store.ErrCardNotFound); err != nil {
				return fmt.Errorf("card %s: %w", u.CardID, err)
			}
		}
		return nil
	})
	if err != nil {
		if store.IsRetryable(err) {
			log.Warn("batch update hit a transient failure",
				slog.String("error", err.Error()),
				slog.Int("count", len(updates)))
		} else {
			log.Error("batch update failed",
				slog.String("error", err.Error()),
				slog.Int("count", len(updates)))
		}
		return store.NewStoreError("card", "batch_update", "update failed", err)
	}

	log.Debug("cards updated", slog.Int("count", len(updates)))
	return nil
}

// Delete implements store.CardStore.Delete.
func (s *CardStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM cards WHERE id = ?`), id)
	if err != nil {
		log.Error("failed to delete card",
			slog.String("error", err.Error()),
			slog.String("card_id", id.String()))
		return store.NewStoreError("card", "delete", "delete failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrCardNotFound)
}

// BatchDelete implements store.CardStore.BatchDelete.
func (s *CardStore) BatchDelete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := s.dialect.Rebind(fmt.Sprintf(
		`DELETE FROM cards WHERE user_id = ? AND id IN (%s)`, placeholders(len(ids)),
	))

	var removed int64
	err := store.InTransaction(ctx, s.db, func(ctx context.Context, tx store.DBTX) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return MapError(err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		log.Error("batch delete failed",
			slog.String("error", err.Error()),
			slog.Int("count", len(ids)))
		return 0, store.NewStoreError("card", "batch_delete", "delete failed", err)
	}

	log.Debug("cards deleted", slog.Int64("count", removed))
	return int(removed), nil
}

// WithTx implements store.CardStore.WithTx.
func (s *CardStore) WithTx(tx *sql.Tx) store.CardStore {
	return &CardStore{db: tx, dialect: s.dialect, logger: s.logger}
}
