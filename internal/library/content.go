package library

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseTags extracts the tag list from a topics document: either a "tags"
// string array or a "topics" array whose entries carry a "name".
func ParseTags(data []byte) ([]string, error) {
	var doc struct {
		Tags   []string `json:"tags"`
		Topics []struct {
			Name string `json:"name"`
		} `json:"topics"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	tags := make([]string, 0, len(doc.Tags)+len(doc.Topics))
	seen := make(map[string]struct{})
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	for _, t := range doc.Tags {
		add(t)
	}
	if len(tags) == 0 {
		for _, t := range doc.Topics {
			add(t.Name)
		}
	}
	return tags, nil
}

// summaryFromRich pulls the summary text out of a rich summary document.
func summaryFromRich(data []byte) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse summary: %w", err)
	}
	for _, key := range []string{"summary", "tldr"} {
		if s, ok := doc[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("summary document has no summary text")
}

// excerpt collapses whitespace and truncates to limit runes.
func excerpt(text string, limit int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if limit <= 0 || utf8.RuneCountInString(collapsed) <= limit {
		return collapsed
	}
	runes := []rune(collapsed)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
