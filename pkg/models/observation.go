// Package models contains domain models for the claude-mem bridge.
package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ObservationType represents the type of observation.
type ObservationType string

const (
	ObsTypeDecision  ObservationType = "decision"
	ObsTypeBugfix    ObservationType = "bugfix"
	ObsTypeFeature   ObservationType = "feature"
	ObsTypeRefactor  ObservationType = "refactor"
	ObsTypeDiscovery ObservationType = "discovery"
	ObsTypeChange    ObservationType = "change"
)

// UntitledLabel is shown for observations that have neither a title nor a subtitle.
const UntitledLabel = "(untitled)"

// JSONStringArray is a custom type for handling JSON string arrays in SQLite.
// The column keeps the raw JSON text so substring scans see it verbatim.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Observation is one stored record of tool activity.
// Nullable columns stay sql.Null* so "absent" and "empty" remain distinct.
type Observation struct {
	SDKSessionID   string          `db:"sdk_session_id" json:"sdk_session_id"`
	CreatedAt      string          `db:"created_at" json:"created_at"`
	Project        sql.NullString  `db:"project" json:"project,omitempty"`
	Type           sql.NullString  `db:"type" json:"type,omitempty"`
	Title          sql.NullString  `db:"title" json:"title,omitempty"`
	Subtitle       sql.NullString  `db:"subtitle" json:"subtitle,omitempty"`
	Narrative      sql.NullString  `db:"narrative" json:"narrative,omitempty"`
	Text           sql.NullString  `db:"text" json:"text,omitempty"`
	Facts          JSONStringArray `db:"facts" json:"facts,omitempty"`
	Concepts       JSONStringArray `db:"concepts" json:"concepts,omitempty"`
	FilesRead      JSONStringArray `db:"files_read" json:"files_read,omitempty"`
	FilesModified  JSONStringArray `db:"files_modified" json:"files_modified,omitempty"`
	PromptNumber   sql.NullInt64   `db:"prompt_number" json:"prompt_number,omitempty"`
	CreatedAtEpoch sql.NullInt64   `db:"created_at_epoch" json:"created_at_epoch,omitempty"`
	ID             int64           `db:"id" json:"id"`
}

// NewObservation creates an observation stamped with the current time.
func NewObservation(sdkSessionID, project string, obsType ObservationType, title string) *Observation {
	now := time.Now()
	return &Observation{
		SDKSessionID:   sdkSessionID,
		Project:        NullString(project),
		Type:           NullString(string(obsType)),
		Title:          NullString(title),
		CreatedAt:      now.UTC().Format(time.RFC3339),
		CreatedAtEpoch: sql.NullInt64{Int64: now.UnixMilli(), Valid: true},
	}
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ObservationSummary is the projection returned by text searches.
type ObservationSummary struct {
	Title          sql.NullString `db:"title"`
	Subtitle       sql.NullString `db:"subtitle"`
	Type           sql.NullString `db:"type"`
	Project        sql.NullString `db:"project"`
	CreatedAtEpoch sql.NullInt64  `db:"created_at_epoch"`
	ID             int64          `db:"id"`
}

// DisplayTitle returns the title, then the subtitle, then UntitledLabel.
func (s ObservationSummary) DisplayTitle() string {
	if s.Title.Valid && s.Title.String != "" {
		return s.Title.String
	}
	if s.Subtitle.Valid && s.Subtitle.String != "" {
		return s.Subtitle.String
	}
	return UntitledLabel
}

// Summary projects the observation onto the search result shape.
func (o *Observation) Summary() ObservationSummary {
	return ObservationSummary{
		ID:             o.ID,
		Title:          o.Title,
		Subtitle:       o.Subtitle,
		Type:           o.Type,
		Project:        o.Project,
		CreatedAtEpoch: o.CreatedAtEpoch,
	}
}
