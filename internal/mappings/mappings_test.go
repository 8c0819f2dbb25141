package mappings

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
)

func TestResolver_Resolve(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer rawDB.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT symbol, external_id").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "external_id", "rank", "source", "updated_at"}).
			AddRow("BTC", "bitcoin", 0, "coins_list", now).
			AddRow("SOL", "solana", 4, "coins_list", now))

	r := NewResolver(store.NewForTest(sqlx.NewDb(rawDB, "postgres")))
	require.NoError(t, r.Load(context.Background()))

	id, ok := r.Resolve("BTC")
	assert.True(t, ok)
	assert.Equal(t, "bitcoin", id)

	id, ok = r.Resolve("sol")
	assert.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "solana", id)

	_, ok = r.Resolve("NOPE")
	assert.False(t, ok, "missing mapping is an expected absence")

	assert.Equal(t, 2, r.Size())
}
