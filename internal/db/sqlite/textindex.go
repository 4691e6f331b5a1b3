package sqlite

import (
	"context"
	"database/sql"

	"github.com/thebtf/claude-mem-bridge/pkg/models"
)

const summaryColumns = `o.id, o.title, o.subtitle, o.type, o.project, o.created_at_epoch`

// TextIndex runs the read side of observation search: ranked FTS5 matches and substring scans.
// It never writes; the triggers created by the migrations keep observations_fts current.
type TextIndex struct {
	store *Store
}

// NewTextIndex creates a text index reader over the store.
func NewTextIndex(store *Store) *TextIndex {
	return &TextIndex{store: store}
}

// SearchRanked runs an FTS5 MATCH and returns rows ordered by bm25 (best first),
// ties broken by newest created_at_epoch. match is passed to FTS5 verbatim, so
// callers quote user text first. An empty project means no project filter.
func (t *TextIndex) SearchRanked(ctx context.Context, match, project string, limit int) ([]models.ObservationSummary, error) {
	query := `
		SELECT ` + summaryColumns + `
		FROM observations_fts
		JOIN observations o ON o.id = observations_fts.rowid
		WHERE observations_fts MATCH ?`
	args := []interface{}{match}
	if project != "" {
		query += ` AND o.project = ?`
		args = append(args, project)
	}
	query += `
		ORDER BY bm25(observations_fts) ASC, o.created_at_epoch DESC
		LIMIT ?`
	args = append(args, limit)

	return t.querySummaries(ctx, query, args...)
}

// SearchSubstring returns rows where any text column contains needle, case-sensitively,
// newest first.
func (t *TextIndex) SearchSubstring(ctx context.Context, needle, project string, limit int) ([]models.ObservationSummary, error) {
	query := `
		SELECT ` + summaryColumns + `
		FROM observations o
		WHERE (instr(o.title, ?) > 0
		    OR instr(o.subtitle, ?) > 0
		    OR instr(o.narrative, ?) > 0
		    OR instr(o.text, ?) > 0
		    OR instr(o.facts, ?) > 0
		    OR instr(o.concepts, ?) > 0)`
	args := []interface{}{needle, needle, needle, needle, needle, needle}
	if project != "" {
		query += ` AND o.project = ?`
		args = append(args, project)
	}
	query += `
		ORDER BY o.created_at_epoch DESC, o.id DESC
		LIMIT ?`
	args = append(args, limit)

	return t.querySummaries(ctx, query, args...)
}

func (t *TextIndex) querySummaries(ctx context.Context, query string, args ...interface{}) ([]models.ObservationSummary, error) {
	rows, err := t.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ObservationSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSummary(rows *sql.Rows) (models.ObservationSummary, error) {
	var s models.ObservationSummary
	err := rows.Scan(&s.ID, &s.Title, &s.Subtitle, &s.Type, &s.Project, &s.CreatedAtEpoch)
	return s, err
}
