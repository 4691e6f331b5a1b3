package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/thebtf/claude-mem-bridge/pkg/models"
)

// observationColumns is the standard list of columns to select for observations.
const observationColumns = `id, sdk_session_id, project, type, title, subtitle, narrative, text,
       facts, concepts, files_read, files_modified, prompt_number, created_at, created_at_epoch`

// MaxObservationsPerProject is the default retention passed to CleanupOldObservations.
const MaxObservationsPerProject = 1000

// ObservationStore provides observation writes and lookups.
// Every write goes through the base table so the FTS triggers keep the index in step.
type ObservationStore struct {
	store *Store
}

// NewObservationStore creates a new observation store.
func NewObservationStore(store *Store) *ObservationStore {
	return &ObservationStore{store: store}
}

// StoreObservation inserts an observation and returns its id.
// Missing timestamps are filled with the current time.
func (s *ObservationStore) StoreObservation(ctx context.Context, obs *models.Observation) (int64, error) {
	now := time.Now()
	if obs.CreatedAt == "" {
		obs.CreatedAt = now.UTC().Format(time.RFC3339)
	}
	if !obs.CreatedAtEpoch.Valid {
		obs.CreatedAtEpoch = sql.NullInt64{Int64: now.UnixMilli(), Valid: true}
	}

	const query = `
		INSERT INTO observations
		(sdk_session_id, project, type, title, subtitle, narrative, text,
		 facts, concepts, files_read, files_modified, prompt_number, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.store.ExecContext(ctx, query,
		obs.SDKSessionID, obs.Project, obs.Type, obs.Title, obs.Subtitle, obs.Narrative, obs.Text,
		obs.Facts, obs.Concepts, obs.FilesRead, obs.FilesModified, obs.PromptNumber,
		obs.CreatedAt, obs.CreatedAtEpoch,
	)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	obs.ID = id
	return id, nil
}

// UpdateObservation rewrites the mutable columns of an existing observation.
// Returns sql.ErrNoRows when the id does not exist.
func (s *ObservationStore) UpdateObservation(ctx context.Context, obs *models.Observation) error {
	const query = `
		UPDATE observations
		SET project = ?, type = ?, title = ?, subtitle = ?, narrative = ?, text = ?,
		    facts = ?, concepts = ?, files_read = ?, files_modified = ?
		WHERE id = ?
	`

	result, err := s.store.ExecContext(ctx, query,
		obs.Project, obs.Type, obs.Title, obs.Subtitle, obs.Narrative, obs.Text,
		obs.Facts, obs.Concepts, obs.FilesRead, obs.FilesModified, obs.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetObservationByID retrieves an observation by ID. Returns nil, nil when absent.
func (s *ObservationStore) GetObservationByID(ctx context.Context, id int64) (*models.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE id = ?`

	obs, err := scanObservation(s.store.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return obs, err
}

// GetObservationsByIDs retrieves observations by id.
// orderBy accepts "date_asc"; anything else sorts newest first.
func (s *ObservationStore) GetObservationsByIDs(ctx context.Context, ids []int64, orderBy string, limit int) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE id IN (` + placeholders(len(ids)) + `)
		ORDER BY `
	if orderBy == "date_asc" {
		query += "created_at_epoch ASC, id ASC"
	} else {
		query += "created_at_epoch DESC, id DESC"
	}

	args := int64SliceToInterface(ids)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// GetRecentObservations retrieves the newest observations, optionally for one project.
func (s *ObservationStore) GetRecentObservations(ctx context.Context, project string, limit int) ([]*models.Observation, error) {
	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE (? = '' OR project = ?)
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ?
	`

	rows, err := s.store.QueryContext(ctx, query, project, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// GetObservationCount returns the number of observations, optionally for one project.
func (s *ObservationStore) GetObservationCount(ctx context.Context, project string) (int, error) {
	const query = `SELECT COUNT(*) FROM observations WHERE (? = '' OR project = ?)`
	var count int
	err := s.store.QueryRowContext(ctx, query, project, project).Scan(&count)
	return count, err
}

// DeleteObservations deletes multiple observations by ID.
func (s *ObservationStore) DeleteObservations(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if s.store.readOnly {
		return 0, ErrReadOnly
	}

	query := `DELETE FROM observations WHERE id IN (` + placeholders(len(ids)) + `)` // #nosec G202 -- uses parameterized placeholders

	result, err := s.store.db.ExecContext(ctx, query, int64SliceToInterface(ids)...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CleanupOldObservations deletes observations beyond keep for a project, oldest first.
// Returns the IDs of deleted observations.
func (s *ObservationStore) CleanupOldObservations(ctx context.Context, project string, keep int) ([]int64, error) {
	if keep <= 0 {
		keep = MaxObservationsPerProject
	}

	const selectQuery = `
		SELECT id FROM observations
		WHERE project = ? AND id NOT IN (
			SELECT id FROM observations
			WHERE project = ?
			ORDER BY created_at_epoch DESC, id DESC
			LIMIT ?
		)
	`

	rows, err := s.store.QueryContext(ctx, selectQuery, project, project, keep)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var toDelete []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		toDelete = append(toDelete, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(toDelete) == 0 {
		return nil, nil
	}

	if _, err := s.DeleteObservations(ctx, toDelete); err != nil {
		return nil, err
	}
	return toDelete, nil
}

// scanObservation scans a single observation from a row scanner.
func scanObservation(scanner interface{ Scan(...interface{}) error }) (*models.Observation, error) {
	var obs models.Observation
	if err := scanner.Scan(
		&obs.ID, &obs.SDKSessionID, &obs.Project, &obs.Type,
		&obs.Title, &obs.Subtitle, &obs.Narrative, &obs.Text,
		&obs.Facts, &obs.Concepts, &obs.FilesRead, &obs.FilesModified,
		&obs.PromptNumber, &obs.CreatedAt, &obs.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &obs, nil
}

// scanObservationRows scans multiple observations from rows.
// Caller must close rows after calling this function.
func scanObservationRows(rows *sql.Rows) ([]*models.Observation, error) {
	var observations []*models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64SliceToInterface(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
