package observability

import (
	"strings"
	"unicode"
)

const defaultFieldLimit = 256

// scrubField strips control characters and caps length so request-derived
// values cannot inject structure into log lines.
func scrubField(value string, limit int) string {
	if limit <= 0 {
		limit = defaultFieldLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

func scrubRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrubField(route, 180)
}

func scrubMethod(method string) string {
	return scrubField(method, 10)
}

func scrubUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return scrubField(uid, 64)
}
