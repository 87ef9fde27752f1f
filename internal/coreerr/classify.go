package coreerr

import "strings"

// IsConnectionError reports whether err looks like a transport-level
// failure to reach the embedder subprocess (connection refused, reset,
// broken pipe) as opposed to an HTTP-level error response, by matching
// well-known substrings of the error message.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"EOF",
		"no such host",
		"i/o timeout",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
