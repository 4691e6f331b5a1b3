package search

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/thebtf/claude-mem-bridge/internal/db/sqlite"
	"github.com/thebtf/claude-mem-bridge/pkg/models"
)

// Local searches the on-disk database directly, for use when the worker can't answer.
// The database is opened read-only for each search and closed afterwards.
type Local struct {
	dbPath string
}

// NewLocal creates a local searcher for the database at dbPath.
func NewLocal(dbPath string) *Local {
	return &Local{dbPath: dbPath}
}

// Search runs the two-phase search against the local database.
// It returns "" with no error when the database doesn't exist yet.
func (l *Local) Search(ctx context.Context, query string, limit int, project string) (string, error) {
	store, err := l.open()
	if store == nil || err != nil {
		return "", err
	}
	defer store.Close()

	return NewEngine(sqlite.NewTextIndex(store)).Search(ctx, query, limit, project)
}

// Recent lists the newest observations, optionally for one project.
// Like Search it returns "" when the database doesn't exist yet.
func (l *Local) Recent(ctx context.Context, project string, limit int) (string, error) {
	store, err := l.open()
	if store == nil || err != nil {
		return "", err
	}
	defer store.Close()

	obs, err := sqlite.NewObservationStore(store).GetRecentObservations(ctx, project, ClampLimit(limit))
	if err != nil {
		return "", fmt.Errorf("recent observations: %w", err)
	}
	if len(obs) == 0 {
		return "No observations recorded yet", nil
	}

	rows := make([]models.ObservationSummary, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, o.Summary())
	}
	return fmt.Sprintf("Latest %d observation(s)\n\n", len(rows)) + Table(rows), nil
}

// open returns a read-only store, or nil with no error when the file is missing.
func (l *Local) open() (*sqlite.Store, error) {
	if _, err := os.Stat(l.dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: l.dbPath, MaxConns: 1, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open local index: %w", err)
	}
	return store, nil
}
