package pkg

import (
	"strings"
	"testing"
)

func TestLatestSnapshotsQuery(t *testing.T) {
	tests := []struct {
		name      string
		country   string
		limit     int
		wantKind  string
		wantLimit int
	}{
		{"country", "usa", 3, "countries-search", 3},
		{"global", "", 20, "general-stats", 20},
		{"non-positive limit", "jap", 0, "countries-search", DefaultHistoryLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, bindVars := latestSnapshotsQuery(tt.country, tt.limit)

			if !strings.HasPrefix(query, "FOR s IN Snapshots ") || !strings.Contains(query, "SORT s.date DESC") {
				t.Errorf("query = %q", query)
			}
			for _, name := range []string{"kind", "country", "limit"} {
				if !strings.Contains(query, "@"+name) {
					t.Errorf("query does not reference @%s", name)
				}
			}
			if len(bindVars) != 3 {
				t.Errorf("bindVars = %v, want 3 entries", bindVars)
			}
			if bindVars["kind"] != tt.wantKind || bindVars["country"] != tt.country || bindVars["limit"] != tt.wantLimit {
				t.Errorf("bindVars = %v", bindVars)
			}
		})
	}
}
