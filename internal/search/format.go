package search

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/thebtf/claude-mem-bridge/pkg/models"
)

// maxEpochMs is the largest millisecond timestamp treated as a valid date.
const maxEpochMs = 8_640_000_000_000_000

const (
	tableHeader    = "| ID | Date | T | Title | Project |"
	tableSeparator = "|----|------|---|-------|---------|"
)

// NoResults is the message returned when neither phase finds anything.
func NoResults(query string) string {
	return fmt.Sprintf(`No results found matching "%s"`, query)
}

// Format renders rows as the markdown table used by every search surface.
func Format(query string, rows []models.ObservationSummary) string {
	if len(rows) == 0 {
		return NoResults(query)
	}

	return fmt.Sprintf("Found %d observation(s) matching \"%s\"\n\n", len(rows), query) + Table(rows)
}

// Table renders rows as a markdown table with a header and one line per observation.
func Table(rows []models.ObservationSummary) string {
	var b strings.Builder
	b.WriteString(tableHeader)
	b.WriteByte('\n')
	b.WriteString(tableSeparator)

	for _, r := range rows {
		fmt.Fprintf(&b, "\n| #%d | %s | %s | %s | %s |",
			r.ID,
			formatDate(r.CreatedAtEpoch),
			orDash(r.Type),
			r.DisplayTitle(),
			orDash(r.Project),
		)
	}
	return b.String()
}

// formatDate renders a millisecond epoch as a local YYYY-MM-DD date.
func formatDate(epoch sql.NullInt64) string {
	if !epoch.Valid || epoch.Int64 == 0 {
		return ""
	}
	if epoch.Int64 > maxEpochMs || epoch.Int64 < -maxEpochMs {
		return ""
	}
	return time.UnixMilli(epoch.Int64).Local().Format("2006-01-02")
}

func orDash(s sql.NullString) string {
	if !s.Valid || s.String == "" {
		return "-"
	}
	return s.String
}
