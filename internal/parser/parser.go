package parser

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/LeFroid/Viper-Browser-sub001/internal/converter"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
)

// ResourceFunc returns the body of the named script resource, or an empty
// string if there is none
type ResourceFunc func(name string) string

// Parser parses ABP/uBlock filter lists
type Parser struct {
	stats     Stats
	meta      Metadata
	conv      *converter.Converter
	resources ResourceFunc
}

// Stats tracks parsing statistics
type Stats struct {
	Total       int
	Network     int
	Exception   int
	Cosmetic    int
	Scripts     int
	Comments    int
	Unsupported int
	SkipReasons map[string]int // Detailed breakdown of skipped filters
}

// Metadata is read from the "! Key: value" header comments of a list
type Metadata struct {
	Title    string
	Homepage string
	Version  string
	Expires  time.Duration
}

// SkipReason constants
const (
	SkipHTMLFilter        = "html-filter (##^)"
	SkipAdGuardDirective  = "adguard-directive (#%#, #$#)"
	SkipGenericProcedural = "generic procedural (:has-text, :xpath, etc)"
	SkipABPProcedural     = "abp procedural (:-abp-)"
	SkipGenericScript     = "generic script injection"
	SkipMissingResource   = "missing-resource (+js)"
	SkipUnsupportedOpt    = "unsupported-option (removeparam, cname, etc)"
)

// continuation marks a line that continues on the next, indented line
const (
	continuationSuffix = ` \`
	continuationIndent = "    "
)

// New creates a new parser.  resources may be nil, in which case script
// injection rules are skipped.
func New(resources ResourceFunc) *Parser {
	return &Parser{
		stats: Stats{
			SkipReasons: make(map[string]int),
		},
		conv:      converter.New(),
		resources: resources,
	}
}

// skip records a skipped filter with reason
func (p *Parser) skip(f *models.Filter, reason string) {
	p.stats.SkipReasons[reason]++
	f.Category = models.CategoryNotImplemented
}

// Stats returns parsing statistics, including the patterns the regex
// converter rejected
func (p *Parser) Stats() Stats {
	stats := p.stats
	stats.SkipReasons = make(map[string]int, len(p.stats.SkipReasons))
	for reason, n := range p.stats.SkipReasons {
		stats.SkipReasons[reason] = n
	}
	for reason, n := range p.conv.Stats().SkipReasons {
		stats.SkipReasons[reason] += n
	}

	return stats
}

// Metadata returns the header information read by the last Parse call
func (p *Parser) Metadata() Metadata {
	return p.meta
}

// Parse reads filter content and returns the filters that can be applied.
// Comments, metadata and unsupported rules are counted but not returned.
func (p *Parser) Parse(r io.Reader) ([]*models.Filter, error) {
	var filters []*models.Filter
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pending string
	hasPending := false
	next := func() (string, bool) {
		if hasPending {
			hasPending = false
			return pending, true
		}
		if !scanner.Scan() {
			return "", false
		}
		return scanner.Text(), true
	}

	for {
		raw, ok := next()
		if !ok {
			break
		}

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		p.stats.Total++

		if isComment(line) {
			p.stats.Comments++
			p.parseMetadata(line)
			continue
		}

		for strings.HasSuffix(line, continuationSuffix) {
			cont, more := next()
			if !more {
				break
			}
			if !strings.HasPrefix(cont, continuationIndent) {
				pending, hasPending = cont, true
				break
			}
			line = line[:len(line)-len(continuationSuffix)] + strings.TrimSpace(cont)
		}

		filter := p.ParseRule(line)

		switch {
		case filter.Category == models.CategoryNotImplemented,
			filter.Category == models.CategoryScriptlet,
			filter.Category == models.CategoryNone:
			p.stats.Unsupported++
			continue
		case filter.Category == models.CategoryStylesheetJS:
			p.stats.Scripts++
		case filter.Category.IsCosmetic():
			p.stats.Cosmetic++
		case filter.Exception:
			p.stats.Exception++
		default:
			p.stats.Network++
		}

		filters = append(filters, filter)
	}

	return filters, scanner.Err()
}

// isComment returns true for comment and header lines
func isComment(line string) bool {
	return strings.HasPrefix(line, "!") ||
		strings.HasPrefix(line, "[Adblock") ||
		line == "#" ||
		strings.HasPrefix(line, "# ")
}

// parseMetadata records "! Key: value" header comments
func (p *Parser) parseMetadata(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "!")), ":")
	if !ok {
		return
	}

	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "title":
		if p.meta.Title == "" {
			p.meta.Title = value
		}
	case "homepage":
		p.meta.Homepage = value
	case "version":
		p.meta.Version = value
	case "expires":
		p.meta.Expires = parseExpires(value)
	}
}

// parseExpires parses "4 days" or "12 hours", ignoring any trailing comment
func parseExpires(s string) time.Duration {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return 0
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0
	}

	switch unit := strings.ToLower(fields[1]); {
	case strings.HasPrefix(unit, "day"):
		return time.Duration(n) * 24 * time.Hour
	case strings.HasPrefix(unit, "hour"):
		return time.Duration(n) * time.Hour
	default:
		return 0
	}
}

// ParseRule parses a single filter line
func (p *Parser) ParseRule(rule string) *models.Filter {
	f := models.NewFilter(rule)
	if rule == "" || strings.HasPrefix(rule, "!") {
		return f
	}

	// Cosmetic filters
	if p.parseCosmetic(rule, f) {
		return f
	}

	// Exception rules (whitelist)
	if strings.HasPrefix(rule, "@@") {
		f.Exception = true
		rule = rule[2:]
	}

	if pos := optionsIndex(rule); pos >= 0 {
		p.parseOptions(rule[pos+1:], f)
		rule = rule[:pos]
	}

	if f.Category == models.CategoryNotImplemented {
		return f
	}

	p.parseNetwork(rule, f)

	return f
}

// optionsIndex returns the position of the '$' starting the options of
// rule, or -1.  For /regex/ rules the options follow the closing slash.
func optionsIndex(rule string) int {
	if strings.HasPrefix(rule, "/") {
		if i := strings.LastIndex(rule, "/$"); i > 0 {
			return i + 1
		}
	}

	for i := len(rule) - 2; i >= 0; i-- {
		if rule[i] != '$' {
			continue
		}

		c := rune(rule[i+1])
		if unicode.IsLetter(c) || c == '~' {
			return i
		}
	}

	return -1
}

// parseNetwork fills the pattern fields of a network filter
func (p *Parser) parseNetwork(rule string, f *models.Filter) {
	if rule == "" || rule == "*" {
		f.MatchAll = true
	}

	if converter.IsRegexLiteral(rule) {
		f.Category = models.CategoryRegExp

		re, ok := p.conv.Regex(rule, f.MatchCase)
		if !ok {
			f.Category = models.CategoryNotImplemented
			return
		}

		f.RegExp = re
		return
	}

	rule = strings.TrimPrefix(rule, "*")
	rule = strings.TrimSuffix(rule, "*")

	// Domain matching rule
	if strings.HasPrefix(rule, "||") && strings.HasSuffix(rule, "^") && isDomainRule(rule) {
		f.Category = models.CategoryDomain
		f.EvalString = strings.ToLower(rule[2 : len(rule)-1])
		return
	}

	inner := rule
	switch {
	case strings.HasPrefix(inner, "||"):
		inner = inner[2:]
	case strings.HasPrefix(inner, "|"):
		inner = inner[1:]
	}
	inner = strings.TrimSuffix(inner, "|")

	anchoredDomain := strings.HasPrefix(rule, "||") && strings.HasSuffix(rule, "|")
	if strings.ContainsAny(inner, "*^|") || anchoredDomain {
		f.Category = models.CategoryRegExp

		re, ok := p.conv.Pattern(rule, f.MatchCase)
		if !ok {
			f.Category = models.CategoryNotImplemented
			return
		}

		f.RegExp = re
		return
	}

	switch {
	case strings.HasPrefix(rule, "||"):
		f.Category = models.CategoryDomainStart
	case strings.HasPrefix(rule, "|") && strings.HasSuffix(rule, "|") && len(rule) > 1:
		f.Category = models.CategoryStringExactMatch
	case strings.HasPrefix(rule, "|"):
		f.Category = models.CategoryStringStartMatch
	case strings.HasSuffix(rule, "|"):
		f.Category = models.CategoryStringEndMatch
	}

	f.EvalString = inner
	if !f.MatchCase {
		f.EvalString = strings.ToLower(f.EvalString)
	}

	if f.EvalString == "" {
		f.MatchAll = true
	}

	parseForCSP(f)

	if f.Category == models.CategoryNone {
		f.Category = models.CategoryStringContains
	}
}

// isDomainRule checks that the text of a "||text^" rule is a bare host
func isDomainRule(rule string) bool {
	return !strings.ContainsAny(rule[2:len(rule)-1], "/:?=&*^|")
}

// parseForCSP turns blob: and data: rules into content security policies
func parseForCSP(f *models.Filter) {
	// Each scheme stays allowed for the other one
	var other string
	switch {
	case strings.HasPrefix(f.EvalString, "blob:"):
		other = "data:"
	case strings.HasPrefix(f.EvalString, "data:"):
		other = "blob:"
	default:
		return
	}

	var directives []string
	if f.HasBlockedType(models.ElementSubdocument) {
		directives = append(directives, "frame-src 'self' * "+other)
	}
	if f.HasBlockedType(models.ElementScript) {
		directives = append(directives, "script-src 'self' * "+other+" 'unsafe-inline' 'unsafe-eval'")
	}
	if len(directives) == 0 {
		directives = append(directives, "default-src 'self' * "+other+" 'unsafe-inline' 'unsafe-eval'")
	}

	f.Category = models.CategoryDomain
	f.BlockedTypes |= models.ElementCSP
	f.EvalString = ""
	f.MatchAll = true
	f.ContentSecurityPolicy = strings.Join(directives, "; ")
}

// parseDomainList adds the delimited domains of s to the filter, negated
// entries to the whitelist and the rest to the blacklist
func parseDomainList(s string, sep string, f *models.Filter) {
	for _, d := range strings.Split(s, sep) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || d == "~" {
			continue
		}

		// Entity filter: "example.*" matches any public suffix
		if strings.HasSuffix(d, ".*") {
			d = d[:len(d)-1]
		}

		if strings.HasPrefix(d, "~") {
			f.DomainWhitelist.Add(d[1:])
		} else {
			f.DomainBlacklist.Add(d)
		}
	}
}
