package scoring

import "strings"

// ContainsAny reports whether s case-insensitively contains any of the
// needles. An empty s never matches. The rule data (category lists) and the
// matching algorithm are kept separate so each is testable on its own.
func ContainsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
