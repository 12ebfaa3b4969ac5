package converter

import (
	"regexp"
	"strings"
	"unicode"
)

// Regex fragments substituted for the special characters of a filter pattern
const (
	// Separator matches any character that cannot be part of a host or path
	// token, or the end of the address.
	restrSeparator = `(?:[^%.a-zA-Z0-9_-]|$)`
	// Hostname anchor for patterns starting with ||
	restrHostnameAnchor = `^[a-z-]+://(?:[^\/?#]+\.)?`
	// Wildcard, never crossing a space
	restrWildcard = `[^ ]*?`
	// Prefix making a regex case-insensitive
	restrIgnoreCase = `(?i)`
)

var (
	// Dangling asterisks at start/end
	reDanglingAsterisks = regexp.MustCompile(`^\*+|\*+$`)
)

// PatternToRegex converts a filter pattern (without its $options) to an RE2
// expression.  * becomes a lazy wildcard, ^ a separator, a leading || the
// hostname anchor and a leading or trailing | a plain anchor.
func PatternToRegex(pattern string) string {
	s := reDanglingAsterisks.ReplaceAllString(pattern, "")
	if s == "" {
		return ".*"
	}

	var b strings.Builder
	b.Grow(len(s) * 2)

	starRun := false
	for i, c := range s {
		if c != '*' {
			starRun = false
		}

		switch c {
		case '*':
			if !starRun {
				b.WriteString(restrWildcard)
				starRun = true
			}
		case '^':
			b.WriteString(restrSeparator)
		case '|':
			switch {
			case i == 0 && strings.HasPrefix(s, "||"):
				b.WriteString(restrHostnameAnchor)
			case i == 0:
				b.WriteByte('^')
			case i == 1 && strings.HasPrefix(s, "||"):
				// Second bar of the hostname anchor.
			case i == len(s)-1:
				b.WriteByte('$')
			default:
				b.WriteString(`\|`)
			}
		default:
			if c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c) || unicode.Is(unicode.Mn, c) {
				b.WriteRune(c)
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
			}
		}
	}

	return b.String()
}

// IsRegexLiteral returns true if the pattern is a /regular expression/
func IsRegexLiteral(pattern string) bool {
	return len(pattern) > 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/")
}

// RegexLiteral strips the slashes of a /regular expression/ pattern and
// rewrites the JavaScript-only constructs RE2 has an equivalent for
func RegexLiteral(pattern string) string {
	if IsRegexLiteral(pattern) {
		pattern = pattern[1 : len(pattern)-1]
	}

	for _, fix := range jsRewrites {
		pattern = strings.ReplaceAll(pattern, fix.match, fix.replacement)
	}

	return reUnicodeEscape.ReplaceAllString(pattern, `\x{$1}`)
}

// CompileRegex compiles expr, case-insensitively unless matchCase is set
func CompileRegex(expr string, matchCase bool) (*regexp.Regexp, error) {
	if !matchCase {
		expr = restrIgnoreCase + expr
	}

	return regexp.Compile(expr)
}
