package converter

// RE2 Regex Constraints
//
// Filter lists write /regex/ rules for JavaScript engines.  Go's regexp
// package implements RE2, which guarantees linear-time matching and therefore
// rejects every construct that needs backtracking.
//
// UNSUPPORTED FEATURES:
// - (?=...) (?!...)   - Lookahead
// - (?<=...) (?<!...) - Lookbehind
// - \1 .. \9          - Backreferences
// - (?>...)           - Atomic groups
// - *+ ++ ?+          - Possessive quantifiers
// - \cX               - Control character escapes
//
// REWRITTEN:
// - [^]               - Any character, becomes [\s\S]
// - \u{XXXX} / \uXXXX - Unicode escapes, become \x{XXXX}
//
// Rules with unsupported features are kept as NotImplemented filters.

import (
	"regexp"
	"strings"
)

// jsRewrites are the JavaScript-only constructs with a direct RE2 equivalent
var jsRewrites = []struct {
	match       string
	replacement string
}{
	{`[^]`, `[\s\S]`},
	{`\u{`, `\x{`},
}

var (
	// JavaScript \uXXXX escape
	reUnicodeEscape = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)
	// Backreference \1 to \9
	reBackreference = regexp.MustCompile(`\\[1-9]`)
	// Possessive quantifier
	rePossessive = regexp.MustCompile(`[*+?}]\+`)
	// Control character escape
	reControlEscape = regexp.MustCompile(`\\c[A-Za-z]`)
)

// RegexIssue describes a problem found in a regex pattern
type RegexIssue struct {
	Pattern     string
	Issue       string
	Fixable     bool
	Replacement string
}

// CheckRE2Compatibility analyzes a regex pattern for constructs RE2 rejects
func CheckRE2Compatibility(pattern string) []RegexIssue {
	var issues []RegexIssue

	for _, fix := range jsRewrites {
		if strings.Contains(pattern, fix.match) {
			issues = append(issues, RegexIssue{
				Pattern:     pattern,
				Issue:       "javascript syntax: " + fix.match,
				Fixable:     true,
				Replacement: fix.replacement,
			})
		}
	}

	if reUnicodeEscape.MatchString(pattern) {
		issues = append(issues, RegexIssue{
			Pattern:     pattern,
			Issue:       `unicode escape: \u`,
			Fixable:     true,
			Replacement: `\x{`,
		})
	}

	unsupportedAssertions := []struct {
		pattern string
		name    string
	}{
		{`(?<!`, "negative lookbehind"},
		{`(?<=`, "positive lookbehind"},
		{`(?=`, "positive lookahead"},
		{`(?!`, "negative lookahead"},
		{`(?>`, "atomic group"},
	}

	for _, ua := range unsupportedAssertions {
		if strings.Contains(pattern, ua.pattern) {
			issues = append(issues, RegexIssue{
				Pattern: pattern,
				Issue:   ua.name,
				Fixable: false,
			})
		}
	}

	unsupported := []struct {
		re   *regexp.Regexp
		name string
	}{
		{reBackreference, "backreference"},
		{rePossessive, "possessive quantifier"},
		{reControlEscape, "control escape"},
	}

	for _, u := range unsupported {
		for _, m := range u.re.FindAllString(pattern, -1) {
			issues = append(issues, RegexIssue{
				Pattern: pattern,
				Issue:   u.name + ": " + m,
				Fixable: false,
			})
		}
	}

	return issues
}

// HasUnfixableIssues returns true if the pattern has issues that cannot be fixed
func HasUnfixableIssues(pattern string) bool {
	issues := CheckRE2Compatibility(pattern)
	for _, issue := range issues {
		if !issue.Fixable {
			return true
		}
	}
	return false
}
