package testdb_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/store"
	"github.com/phrazzld/leitbox/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvidesMigratedStores(t *testing.T) {
	t.Parallel()

	env := testdb.New(t)
	box, err := domain.NewBox(uuid.New(), "Vocabulary", 5)
	require.NoError(t, err)
	require.NoError(t, env.Boxes.Create(context.Background(), box))

	got, err := env.Boxes.GetByID(context.Background(), box.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vocabulary", got.Name)
}

func TestWithTxRollsBack(t *testing.T) {
	t.Parallel()

	env := testdb.New(t)
	box, err := domain.NewBox(uuid.New(), "Scratch", 0)
	require.NoError(t, err)

	testdb.WithTx(t, env.DB, func(t *testing.T, tx *sql.Tx) {
		require.NoError(t, env.Boxes.WithTx(tx).Create(context.Background(), box))
	})

	_, err = env.Boxes.GetByID(context.Background(), box.ID)
	assert.ErrorIs(t, err, store.ErrBoxNotFound)
}
