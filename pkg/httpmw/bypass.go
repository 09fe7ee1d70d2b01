package httpmw

import "strings"

// RateLimit and Idempotency share the same bypass set. authBypass is
// narrower: downloads self-authenticate via signed URLs (pkg/signing) so
// Auth must not gate them.
var sharedBypassPrefixes = []string{"/ui/"}
var sharedBypassExact = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

var authBypassExact = map[string]struct{}{
	"/healthz":  {},
	"/readyz":   {},
	"/download": {},
}

func isSharedBypass(path string) bool {
	if _, ok := sharedBypassExact[path]; ok {
		return true
	}
	for _, prefix := range sharedBypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isAuthBypass(path string) bool {
	_, ok := authBypassExact[path]
	return ok
}
