package textutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// greedy through the last `});` so nested widget-config braces are
	// swallowed with the block
	jqueryBlockRegex = regexp.MustCompile(`(?s)\$\(function\(\)\{.*\}\);?`)
	widgetCallRegex  = regexp.MustCompile(`PrimeFaces\.cw\([^)]*\);?`)
	widgetIdRegex    = regexp.MustCompile(`widget_expediente_[^,'"]+`)
	strayBraceRegex  = regexp.MustCompile(`[{}];?`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// CleanScripts strips the script fragments the portal's templating engine
// leaves inlined inside table cells (tooltip initializers, widget ids),
// then collapses whitespace.
func CleanScripts(text string) string {
	if text == "" {
		return ""
	}
	text = jqueryBlockRegex.ReplaceAllString(text, "")
	text = widgetCallRegex.ReplaceAllString(text, "")
	text = widgetIdRegex.ReplaceAllString(text, "")
	text = strayBraceRegex.ReplaceAllString(text, "")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

var (
	tagRegex       = regexp.MustCompile(`<[^>]+>`)
	dateRegex      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	looseDateRegex = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
)

// StripTags removes markup and non-breaking spaces from a raw HTML
// fragment, collapsing the remainder into single-spaced text.
func StripTags(fragment string) string {
	fragment = tagRegex.ReplaceAllString(fragment, " ")
	fragment = strings.ReplaceAll(fragment, "&nbsp;", " ")
	fragment = whitespaceRegex.ReplaceAllString(fragment, " ")
	return strings.TrimSpace(fragment)
}

// NormalizeDate converts a D/M/YYYY locale date into YYYY-MM-DD with
// zero-padded month and day. Returns ok=false for anything that does not
// parse as a real calendar date, callers keep the raw text in that case.
func NormalizeDate(text string) (string, bool) {
	groups := dateRegex.FindStringSubmatch(strings.TrimSpace(text))
	if groups == nil {
		return "", false
	}
	day, _ := strconv.Atoi(groups[1])
	month, _ := strconv.Atoi(groups[2])
	year, _ := strconv.Atoi(groups[3])

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

// FindDate scans text for the first D/M/YYYY occurrence and returns both
// the raw match and its normalized form.
func FindDate(text string) (raw string, iso string, ok bool) {
	groups := looseDateRegex.FindStringSubmatch(text)
	if groups == nil {
		return "", "", false
	}
	iso, ok = NormalizeDate(groups[0])
	return groups[0], iso, ok
}

// ParseLocaleInt parses an integer formatted with `.` thousands
// separators, e.g. "1.096".
func ParseLocaleInt(text string) (int, error) {
	text = strings.ReplaceAll(strings.TrimSpace(text), ".", "")
	return strconv.Atoi(text)
}

// Truncate bounds a string to at most n runes.
func Truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
