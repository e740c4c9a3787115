package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"endless-chord/internal/models"
)

var (
	// ErrNoArray means the model response held no JSON array of objects.
	ErrNoArray = errors.New("no JSON array found in response")
	// ErrNoValidSuggestions means the array parsed but no item carried the required fields.
	ErrNoValidSuggestions = errors.New("no valid suggestions in response")
	// ErrMalformedArray means the response's suggestion array was not valid JSON.
	ErrMalformedArray = errors.New("malformed JSON array in response")
)

// ExtractArray returns the first balanced JSON array literal in text whose
// elements are objects (or which is empty). Model output is free text,
// frequently wrapped in prose or code fences. The array is returned even
// when it is not valid JSON; later arrays are never considered.
func ExtractArray(text string) (string, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		end := matchBracket(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if !objectArray(candidate) {
			continue
		}
		return candidate, true
	}
	return "", false
}

// matchBracket returns the index of the ']' closing the '[' at start, or -1.
func matchBracket(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				if c != ']' {
					return -1
				}
				return i
			}
			if depth < 0 {
				return -1
			}
		}
	}
	return -1
}

func objectArray(candidate string) bool {
	inner := strings.TrimSpace(candidate[1:])
	return strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "]")
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

// flexStrings accepts a JSON string, an array of strings or null.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if it != "" {
				out = append(out, string(it))
			}
		}
		*f = out
		return nil
	}
	var s flexString
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = nil
		return nil
	}
	*f = flexStrings{string(s)}
	return nil
}

type rawItem struct {
	Title    flexString  `json:"title"`
	Artist   flexString  `json:"artist"`
	Composer flexString  `json:"composer"`
	Album    flexString  `json:"album"`
	Year     flexString  `json:"year"`
	Genre    flexStrings `json:"genre"`
	Language flexStrings `json:"language"`
}

// ParseSuggestions decodes an array literal into validated suggestions.
// Items that fail to decode or lack a title or artist are dropped; the
// returned count reports how many were rejected.
func ParseSuggestions(array string) ([]models.RawSuggestion, int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(array), &items); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedArray, err)
	}

	suggestions := make([]models.RawSuggestion, 0, len(items))
	rejected := 0
	for _, raw := range items {
		var item rawItem
		if err := json.Unmarshal(raw, &item); err != nil {
			rejected++
			continue
		}
		if item.Title == "" || item.Artist == "" {
			rejected++
			continue
		}
		suggestions = append(suggestions, models.RawSuggestion{
			Title:    string(item.Title),
			Artist:   string(item.Artist),
			Composer: string(item.Composer),
			Album:    string(item.Album),
			Year:     string(item.Year),
			Genre:    []string(item.Genre),
			Language: []string(item.Language),
		})
	}

	if len(suggestions) == 0 && len(items) > 0 {
		return nil, rejected, ErrNoValidSuggestions
	}
	return suggestions, rejected, nil
}
