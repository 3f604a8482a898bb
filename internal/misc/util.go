package misc

import "strings"

// IsNotFoundError reports whether err looks like a missing-object error coming
// from a backend that does not expose a typed not-found condition.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "nosuchkey")
}
