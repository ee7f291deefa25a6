package generator

import (
	"fmt"
	"sort"
	"strings"

	"conductor/pkg/proto"
)

// SummaryPathLimit is how many paths Summary lists before "+N more".
const SummaryPathLimit = 3

// Summary describes changes by operation counts and the first touched
// paths. Artifact content never appears in it.
func Summary(changes []proto.ArtifactChange) string {
	if len(changes) == 0 {
		return "No changes made"
	}

	var created, updated, deleted int
	paths := Paths(changes)
	for i := range changes {
		switch changes[i].Operation {
		case proto.OpCreate:
			created++
		case proto.OpUpdate:
			updated++
		case proto.OpDelete:
			deleted++
		}
	}

	var counts []string
	if created > 0 {
		counts = append(counts, fmt.Sprintf("created %d", created))
	}
	if updated > 0 {
		counts = append(counts, fmt.Sprintf("updated %d", updated))
	}
	if deleted > 0 {
		counts = append(counts, fmt.Sprintf("deleted %d", deleted))
	}

	listed := paths
	more := ""
	if len(paths) > SummaryPathLimit {
		listed = paths[:SummaryPathLimit]
		more = fmt.Sprintf(" +%d more", len(paths)-SummaryPathLimit)
	}

	return fmt.Sprintf("Generated %d change(s) (%s): %s%s",
		len(changes), strings.Join(counts, ", "), strings.Join(listed, ", "), more)
}

// Paths returns the distinct paths touched by changes, in first-touch order.
func Paths(changes []proto.ArtifactChange) []string {
	seen := make(map[string]bool, len(changes))
	out := make([]string, 0, len(changes))
	for i := range changes {
		if seen[changes[i].Path] {
			continue
		}
		seen[changes[i].Path] = true
		out = append(out, changes[i].Path)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
