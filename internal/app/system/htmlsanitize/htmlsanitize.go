// Package htmlsanitize strips markup from user-supplied display text such as
// account names before it is stored.
package htmlsanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// PlainText removes all tags from s, decodes entities, and collapses
// whitespace runs to single spaces.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	stripped := html.UnescapeString(getPolicy().Sanitize(s))
	return strings.Join(strings.Fields(stripped), " ")
}

// HasMarkup reports whether s changes when reduced to plain text.
func HasMarkup(s string) bool {
	return PlainText(s) != strings.Join(strings.Fields(s), " ")
}
