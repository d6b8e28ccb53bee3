package cache

import (
	"sort"
	"strings"
)

// DeriveKey builds a canonical cache key from query parameters. Equal
// parameter sets always map to the same key regardless of how the caller
// assembled them, so logically-identical queries hit the same entry.
func DeriveKey(prefix string, params map[string]string) string {
	if len(params) == 0 {
		return prefix
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(prefix)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
