package services

import "taskloom/internal/models"

// EstimateTokens returns an approximate token count using the ~4 chars/token heuristic.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateItemTokens is the cost of including an item verbatim: title and body joined by a newline.
func EstimateItemTokens(item models.KnowledgeItem) int {
	return EstimateTokens(item.Title + "\n" + item.Body)
}

// TruncateToTokens cuts text so that EstimateTokens(result) <= maxTokens.
// The cut happens on a rune boundary.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	return truncateRunes(text, maxTokens*4)
}

// truncateRunes returns at most maxBytes bytes of s without splitting a UTF-8 sequence
func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return s[:cut]
}
