package track

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
)

func snapshot(symbol string, score float64) model.AssetSnapshot {
	return model.AssetSnapshot{
		Symbol:          symbol,
		Name:            symbol + " Coin",
		Gains:           model.Gains{Chg7d: 9, Chg30d: 35},
		Volume24h:       2_000_000,
		UniformityScore: score,
		TotalGain30d:    35,
	}
}

func activeRow(symbol string) model.ActiveQualifier {
	return model.ActiveQualifier{Symbol: symbol, Name: symbol + " Coin"}
}

func TestDiff_Partitions(t *testing.T) {
	active := map[string]model.ActiveQualifier{
		"X": activeRow("X"),
		"Y": activeRow("Y"),
	}
	qualifying := []model.AssetSnapshot{snapshot("Y", 80), snapshot("Z", 70)}

	ch := Diff(active, qualifying)

	require.Len(t, ch.Entered, 1)
	assert.Equal(t, "Z", ch.Entered[0].Symbol)
	require.Len(t, ch.Exited, 1)
	assert.Equal(t, "X", ch.Exited[0].Symbol)
	require.Len(t, ch.Unchanged, 1)
	assert.Equal(t, "Y", ch.Unchanged[0].Symbol)
}

func TestDiff_Idempotent(t *testing.T) {
	qualifying := []model.AssetSnapshot{snapshot("Y", 80), snapshot("Z", 70)}

	// State after the first diff has been applied: A == {Y, Z}.
	applied := map[string]model.ActiveQualifier{
		"Y": activeRow("Y"),
		"Z": activeRow("Z"),
	}

	ch := Diff(applied, qualifying)
	assert.Empty(t, ch.Entered)
	assert.Empty(t, ch.Exited)
	assert.Len(t, ch.Unchanged, len(qualifying))
}

func TestDiff_EmptySets(t *testing.T) {
	ch := Diff(nil, nil)
	assert.Empty(t, ch.Entered)
	assert.Empty(t, ch.Exited)
	assert.Empty(t, ch.Unchanged)

	ch = Diff(nil, []model.AssetSnapshot{snapshot("A", 50)})
	assert.Len(t, ch.Entered, 1)

	ch = Diff(map[string]model.ActiveQualifier{"A": activeRow("A")}, nil)
	assert.Len(t, ch.Exited, 1)
}

func TestDiff_NormalizesSymbols(t *testing.T) {
	active := map[string]model.ActiveQualifier{"BTC": activeRow("BTC")}
	ch := Diff(active, []model.AssetSnapshot{snapshot("btc", 60)})

	assert.Empty(t, ch.Entered)
	assert.Empty(t, ch.Exited)
	assert.Len(t, ch.Unchanged, 1)
}

func activeColumns() []string {
	return []string{
		"symbol", "name", "slug", "external_id", "entered_at", "last_seen_at",
		"last_scan_at", "gain_7d", "gain_30d", "uniformity_score", "volume_24h",
	}
}

func TestTracker_SyncAppliesDiff(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer rawDB.Close()

	tracker := NewTracker(store.NewForTest(sqlx.NewDb(rawDB, "postgres")))
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT symbol, name, slug, external_id").
		WillReturnRows(sqlmock.NewRows(activeColumns()).
			AddRow("X", "X Coin", "", "", now, now, now, 9.0, 35.0, 80.0, 2e6).
			AddRow("Y", "Y Coin", "", "", now, now, now, 9.0, 35.0, 80.0, 2e6))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO active_qualifiers").
		WithArgs("Z", "Z Coin", "", "", now, now, now, 9.0, 35.0, 70.0, 2e6).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM active_qualifiers").
		WithArgs("X").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE active_qualifiers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO scan_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO scan_history").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	qualifying := []model.AssetSnapshot{snapshot("Y", 80), snapshot("Z", 70)}
	ch, err := tracker.Sync(context.Background(), "run-1", qualifying, now)
	require.NoError(t, err)

	assert.Len(t, ch.Entered, 1)
	assert.Equal(t, "Z", ch.Entered[0].Symbol)
	assert.Len(t, ch.Exited, 1)
	assert.Equal(t, "X", ch.Exited[0].Symbol)
	assert.Len(t, ch.Unchanged, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_SyncRollsBackOnFailure(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer rawDB.Close()

	tracker := NewTracker(store.NewForTest(sqlx.NewDb(rawDB, "postgres")))
	now := time.Now()

	mock.ExpectQuery("SELECT symbol, name, slug, external_id").
		WillReturnRows(sqlmock.NewRows(activeColumns()))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO active_qualifiers").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = tracker.Sync(context.Background(), "run-1", []model.AssetSnapshot{snapshot("Z", 70)}, now)
	require.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
