package report

import (
	"regexp"
	"strings"

	"github.com/privaudit/internal/types"
)

const minSentenceLen = 10

var (
	numberedLine  = regexp.MustCompile(`^\d+\.\s*`)
	bulletLine    = regexp.MustCompile(`^[-•]\s*`)
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
)

// ParseRecommendations extracts recommendations from free LLM text.
// Numbered or bulleted lines are preferred; otherwise sentences longer than
// ten characters are used. The result is empty when neither yields anything.
func ParseRecommendations(text string) ([]string, types.RecommendationSource) {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		var item string
		switch {
		case numberedLine.MatchString(line):
			item = numberedLine.ReplaceAllString(line, "")
		case bulletLine.MatchString(line):
			item = bulletLine.ReplaceAllString(line, "")
		default:
			continue
		}
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
		if len(items) == maxRecommendations {
			break
		}
	}
	if len(items) > 0 {
		return items, types.RecommendationsLLM
	}

	for _, s := range sentenceSplit.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len(s) > minSentenceLen {
			items = append(items, s)
		}
		if len(items) == maxRecommendations {
			break
		}
	}
	if len(items) > 0 {
		return items, types.RecommendationsLLMSentences
	}
	return nil, types.RecommendationsRules
}
