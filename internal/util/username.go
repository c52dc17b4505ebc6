package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeUsername canonicalizes a username for lookup: NFKD-normalized,
// lowercased, surrounding whitespace stripped. Two usernames that normalize
// to the same string refer to the same account.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKD.String(s)))
}
