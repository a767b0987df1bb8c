package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// appendJSON appends a titled fenced JSON block with the structured
// form of the result, so callers can parse as well as read.
func appendJSON(sb *strings.Builder, title string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n\n```json\n%s\n```\n", title, data)
}

// sortedKeys returns a map's keys in lexical order for stable output.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
