package search

import "strings"

// Markers are the upstream phrases that mean a remote search produced nothing usable.
// Matching is a plain substring check against the worker's free-text reply.
var Markers = []string{
	"No results found",
	"Vector search failed",
	"semantic search unavailable",
}

// ShouldFallback reports whether a remote search reply should be replaced by a local search.
// Callers also fall back when the remote call itself failed.
func ShouldFallback(text string) bool {
	if text == "" {
		return true
	}
	for _, m := range Markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
