package vision

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when a model reply yields no keywords.
var ErrEmptyResponse = errors.New("no keywords in response")

// ParseKeywords extracts keywords from a model reply. It accepts
// {"keywords": [...]}, a bare JSON array, or a comma or newline separated
// list, optionally wrapped in a markdown code fence.
func ParseKeywords(raw string) ([]string, error) {
	s := stripFence(strings.TrimSpace(raw))
	if s == "" {
		return nil, ErrEmptyResponse
	}

	var out []string
	switch s[0] {
	case '{':
		var obj struct {
			Keywords []string `json:"keywords"`
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return nil, errors.Join(ErrEmptyResponse, err)
		}
		out = obj.Keywords
	case '[':
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, errors.Join(ErrEmptyResponse, err)
		}
	default:
		out = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	}

	keywords := make([]string, 0, len(out))
	for _, k := range out {
		k = strings.Trim(strings.TrimSpace(k), `"'-*. `)
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return nil, ErrEmptyResponse
	}
	return keywords, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
