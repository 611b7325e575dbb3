package middleware

import (
	"net/http"
	"strings"

	"github.com/dexra46515/apex-app-shield-sub000/internal/util"
)

// SanitizeHeaders returns header values safe for logging: credentials and
// session material are redacted, everything else is sanitized and truncated.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if util.SensitiveHeader(k) {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			clean = append(clean, util.LogValue(v))
		}
		out[k] = clean
	}
	return out
}

// SanitizePath prepares a request path for logging. The query string is dropped.
func SanitizePath(p string) string {
	if i := strings.Index(p, "?"); i != -1 {
		p = p[:i]
	}
	return util.LogValue(p)
}
