package utils

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const maxRemarkLen = 255

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeRemark strips all markup from an admin-supplied remark and caps its length.
func SanitizeRemark(input string) string {
	s := strings.TrimSpace(strictPolicy.Sanitize(input))
	if utf8.RuneCountInString(s) <= maxRemarkLen {
		return s
	}
	return string([]rune(s)[:maxRemarkLen])
}
