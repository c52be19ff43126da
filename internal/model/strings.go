package model

import "strings"

func normalizeKeyword(kw string) string {
	return strings.ToLower(strings.TrimSpace(kw))
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
