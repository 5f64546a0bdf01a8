package textutil

import "strings"

// NormalizeStringMap trims keys and values and drops entries whose key
// becomes empty. Signed upload headers pass through here so stray
// whitespace never reaches the storage signature.
func NormalizeStringMap(values map[string]string) map[string]string {
	var out map[string]string
	for key, value := range values {
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(values))
		}
		out[k] = strings.TrimSpace(value)
	}
	return out
}
