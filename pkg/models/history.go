package models

import "strings"

// NormalizeText collapses whitespace runs to single spaces, trims, and
// lowercases. The result is stable under repeated application, which makes
// it usable as a dedupe key.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// MergeHistory folds additions into history, skipping any entry whose
// normalized form already appeared. Entries keep their first-seen casing
// and order; blank entries are dropped. Merging the same additions twice
// yields the same history.
func MergeHistory(history, additions []string) []string {
	seen := make(map[string]struct{}, len(history)+len(additions))
	merged := make([]string, 0, len(history)+len(additions))
	appendEntry := func(entry string) {
		key := NormalizeText(entry)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		merged = append(merged, strings.TrimSpace(entry))
	}
	for _, entry := range history {
		appendEntry(entry)
	}
	for _, entry := range additions {
		appendEntry(entry)
	}
	return merged
}
