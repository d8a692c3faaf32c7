package sqlstore_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/config"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/platform/sqlstore"
	"github.com/stretchr/testify/require"
)

// newTestDB opens a private in-memory SQLite database with the schema applied.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, dialect, err := sqlstore.Open(ctx, config.DatabaseConfig{Driver: "sqlite", URL: "file::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlstore.Migrate(ctx, db, dialect, nil))
	return db
}

func mustBox(t *testing.T, boxes *sqlstore.BoxStore, userID uuid.UUID, name string) *domain.Box {
	t.Helper()
	box, err := domain.NewBox(userID, name, 0)
	require.NoError(t, err)
	require.NoError(t, boxes.Create(context.Background(), box))
	return box
}

func mustCard(t *testing.T, cards *sqlstore.CardStore, box *domain.Box, front string, next time.Time) *domain.Card {
	t.Helper()
	card, err := domain.NewCard(box.UserID, box.ID, &domain.StandardConfig{Front: front, Back: "back of " + front}, next)
	require.NoError(t, err)
	require.NoError(t, cards.Create(context.Background(), card))
	return card
}

func ids(cards []*domain.Card) []uuid.UUID {
	out := make([]uuid.UUID, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}
