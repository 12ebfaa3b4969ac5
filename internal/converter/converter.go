package converter

import (
	"regexp"
)

// Converter compiles network filter patterns into regular expressions
type Converter struct {
	stats Stats
}

// Stats tracks conversion statistics
type Stats struct {
	Converted   int
	Skipped     int
	SkipReasons map[string]int
}

// Skip reason constants
const (
	SkipInvalidRegex     = "invalid-regex"
	SkipUnsupportedRegex = "unsupported-regex (lookaround, backreference)"
)

// New creates a new converter
func New() *Converter {
	return &Converter{
		stats: Stats{
			SkipReasons: make(map[string]int),
		},
	}
}

// skip records a skipped pattern with reason
func (c *Converter) skip(reason string) {
	c.stats.Skipped++
	c.stats.SkipReasons[reason]++
}

// Stats returns conversion statistics
func (c *Converter) Stats() Stats {
	return c.stats
}

// Pattern compiles a wildcard filter pattern.  ok is false if the result
// could not be compiled.
func (c *Converter) Pattern(pattern string, matchCase bool) (re *regexp.Regexp, ok bool) {
	return c.compile(PatternToRegex(pattern), matchCase)
}

// Regex compiles a /regular expression/ filter pattern.  ok is false if the
// expression uses constructs RE2 does not support.
func (c *Converter) Regex(literal string, matchCase bool) (re *regexp.Regexp, ok bool) {
	expr := RegexLiteral(literal)
	if HasUnfixableIssues(expr) {
		c.skip(SkipUnsupportedRegex)

		return nil, false
	}

	return c.compile(expr, matchCase)
}

func (c *Converter) compile(expr string, matchCase bool) (re *regexp.Regexp, ok bool) {
	re, err := CompileRegex(expr, matchCase)
	if err != nil {
		c.skip(SkipInvalidRegex)

		return nil, false
	}

	c.stats.Converted++

	return re, true
}
