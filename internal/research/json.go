package research

import (
	"encoding/json"
	"errors"
	"strings"
)

// extractJSONBlock pulls the outermost JSON object out of a model
// response that may wrap it in prose or code fences.
func extractJSONBlock(raw string) string {
	value := strings.TrimSpace(raw)
	if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
		return value
	}
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(value[start : end+1])
}

func decodeStrictJSON(raw string, target any) error {
	jsonRaw := extractJSONBlock(raw)
	if jsonRaw == "" {
		return errors.New("response did not include json")
	}
	decoder := json.NewDecoder(strings.NewReader(jsonRaw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func dedupeQueries(queries []string) []string {
	if len(queries) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, query := range queries {
		normalized := strings.Join(strings.Fields(strings.TrimSpace(query)), " ")
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
