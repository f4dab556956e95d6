package source

import "strings"

// ContainsAny reports whether s contains any of the given substrings.
func ContainsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// QueryTokens splits a query on whitespace and lowercases each token.
func QueryTokens(query string) []string {
	fields := strings.Fields(query)
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// DedupeByLink keeps the first listing for each link, preserving order.
func DedupeByLink[T any](items []T, link func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		key := link(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
