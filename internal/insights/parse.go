package insights

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"storepulse/pkg/model"
)

// ExtractJSONObject coerces raw completion text into a JSON object. It
// strips a leading/trailing fenced code block (with or without a language
// tag), attempts a direct parse, then falls back to the substring between
// the first '{' and the last '}'. Returns false if no object can be parsed.
func ExtractJSONObject(content string) (map[string]interface{}, bool) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = content[len("```json"):]
	} else if strings.HasPrefix(content, "```") {
		content = content[len("```"):]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	content = strings.TrimSpace(content)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj, true
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &obj); err == nil {
			return obj, true
		}
	}

	return nil, false
}

// Normalize builds a structurally valid AnalysisResult from an arbitrary
// decoded object: missing fields get defaults, tone collapses to one of the
// three allowed values, tone_score is clamped into [0,1], and every list
// and string is truncated to its cap. It never fails.
func Normalize(raw map[string]interface{}) model.AnalysisResult {
	return model.AnalysisResult{
		Summary:   truncateRunes(stringValue(raw["summary"]), model.MaxSummaryLen),
		Tone:      parseTone(raw["tone"]),
		ToneScore: clampScore(raw["tone_score"]),
		Products:  stringList(raw["products"], model.MaxProducts, model.MaxProductLen),
		Issues:    stringList(raw["issues"], model.MaxIssues, model.MaxIssueLen),
		Actions:   stringList(raw["actions"], model.MaxActions, model.MaxActionLen),
		Keywords:  stringList(raw["keywords"], model.MaxKeywords, model.MaxKeywordLen),
	}
}

// parseTone matches case-insensitively on "positive"/"negative" substrings;
// anything else collapses to neutral.
func parseTone(v interface{}) model.Tone {
	tone := strings.ToLower(strings.TrimSpace(stringValue(v)))

	switch {
	case strings.Contains(tone, "positive"):
		return model.TonePositive
	case strings.Contains(tone, "negative"):
		return model.ToneNegative
	default:
		return model.ToneNeutral
	}
}

// clampScore coerces any input to a score in [0,1]. Non-numeric input
// defaults to 0.5.
func clampScore(v interface{}) float64 {
	var score float64

	switch n := v.(type) {
	case float64:
		score = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0.5
		}
		score = parsed
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0.5
		}
		score = parsed
	default:
		return 0.5
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}

func stringList(v interface{}, maxItems, maxLen int) []string {
	out := make([]string, 0)

	items, ok := v.([]interface{})
	if !ok {
		return out
	}

	for _, item := range items {
		if len(out) >= maxItems {
			break
		}
		out = append(out, truncateRunes(stringValue(item), maxLen))
	}

	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
