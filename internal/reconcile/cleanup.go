package reconcile

import (
	"sort"

	"ragsync/internal/domain"
)

// PlanCleanup returns the distinct indexed sources that are in neither
// currentFiles nor currentURLs, sorted.
func PlanCleanup(currentFiles, currentURLs []string, scan []domain.RecordSummary) []string {
	current := make(map[string]struct{}, len(currentFiles)+len(currentURLs))
	for _, f := range currentFiles {
		current[f] = struct{}{}
	}
	for _, u := range currentURLs {
		current[u] = struct{}{}
	}

	stale := make(map[string]struct{})
	for _, r := range scan {
		if r.Source == "" {
			continue
		}
		if _, ok := current[r.Source]; !ok {
			stale[r.Source] = struct{}{}
		}
	}

	out := make([]string, 0, len(stale))
	for s := range stale {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
