package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/claude-mem-bridge/pkg/models"
)

// testStore opens a migrated read-write store in a temp dir.
// Returns the store, its path, and a cleanup function.
func testStore(t *testing.T) (*Store, string, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(StoreConfig{Path: dbPath, MaxConns: 2})
	require.NoError(t, err)

	return store, dbPath, func() { _ = store.Close() }
}

// seedObservation is a compact constructor for test rows.
type seedObservation struct {
	project   string
	obsType   string
	title     string
	subtitle  string
	narrative string
	text      string
	facts     []string
	concepts  []string
	epoch     int64
}

func (o seedObservation) model() *models.Observation {
	obs := &models.Observation{
		SDKSessionID: "sess-test",
		Project:      models.NullString(o.project),
		Type:         models.NullString(o.obsType),
		Title:        models.NullString(o.title),
		Subtitle:     models.NullString(o.subtitle),
		Narrative:    models.NullString(o.narrative),
		Text:         models.NullString(o.text),
		Facts:        o.facts,
		Concepts:     o.concepts,
	}
	if o.epoch != 0 {
		obs.CreatedAtEpoch = sql.NullInt64{Int64: o.epoch, Valid: true}
	}
	return obs
}

// seed inserts rows in order and returns their ids.
func seed(t *testing.T, store *Store, rows ...seedObservation) []int64 {
	t.Helper()

	obsStore := NewObservationStore(store)
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		id, err := obsStore.StoreObservation(context.Background(), r.model())
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func summaryIDs(rows []models.ObservationSummary) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}
