package util

import "strings"

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-api-token":         {},
	"x-access-token":      {},
	"x-auth-token":        {},
	"x-api-secret":        {},
	"x-csrf-token":        {},
	"x-xsrf-token":        {},
	"x-session-id":        {},
	"x-forwarded-for":     {},
}

// SensitiveHeader reports whether a header carries credentials, session
// material or client addresses. The name is matched case-insensitively.
func SensitiveHeader(name string) bool {
	_, ok := sensitiveHeaders[strings.ToLower(name)]
	return ok
}
