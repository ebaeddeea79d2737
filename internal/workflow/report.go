package workflow

import (
	"sort"
	"strings"

	"astrokeep/internal/meta"
)

// ToCSV renders a list of attribute maps as CSV. Column order is
// deterministic: keys appear in first-seen order, with each row's new keys
// added in sorted order. Rows missing a key render an empty cell.
func ToCSV(data []meta.Attrs, withHeader bool) string {
	var keys []string
	seen := make(map[string]bool)
	for _, datum := range data {
		rowKeys := make([]string, 0, len(datum))
		for k := range datum {
			rowKeys = append(rowKeys, k)
		}
		sort.Strings(rowKeys)
		for _, k := range rowKeys {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	var b strings.Builder
	if withHeader && len(data) > 0 {
		b.WriteString(strings.Join(keys, ","))
		b.WriteString("\n")
	}
	for _, datum := range data {
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = datum[k]
		}
		b.WriteString(strings.Join(values, ","))
		b.WriteString("\n")
	}
	return b.String()
}
