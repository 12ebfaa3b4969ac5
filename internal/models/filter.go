package models

import (
	"cmp"
	"regexp"
	"strings"

	"github.com/AdguardTeam/golibs/container"
)

// FilterCategory is the mutually exclusive kind of a parsed filter
type FilterCategory int

// Filter categories
const (
	CategoryNone             FilterCategory = iota
	CategoryStylesheet                      // Hide elements with a CSS selector
	CategoryStylesheetJS                    // Hide elements through the cosmetic JavaScript
	CategoryStylesheetCustom                // Custom CSS given by the :style() operator
	CategoryDomain                          // ||host^
	CategoryDomainStart                     // ||prefix
	CategoryStringStartMatch                // |prefix
	CategoryStringEndMatch                  // suffix|
	CategoryStringExactMatch                // |exact|
	CategoryStringContains                  // plain substring
	CategoryRegExp                          // /regexp/ or wildcard pattern
	CategoryScriptlet                       // script injection without a resolvable resource
	CategoryNotImplemented                  // parsed but unsupported
)

var categoryNames = [...]string{
	CategoryNone:             "none",
	CategoryStylesheet:       "stylesheet",
	CategoryStylesheetJS:     "stylesheet-js",
	CategoryStylesheetCustom: "stylesheet-custom",
	CategoryDomain:           "domain",
	CategoryDomainStart:      "domain-start",
	CategoryStringStartMatch: "string-start",
	CategoryStringEndMatch:   "string-end",
	CategoryStringExactMatch: "string-exact",
	CategoryStringContains:   "string-contains",
	CategoryRegExp:           "regexp",
	CategoryScriptlet:        "scriptlet",
	CategoryNotImplemented:   "not-implemented",
}

// String implements fmt.Stringer for FilterCategory
func (c FilterCategory) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}

	return categoryNames[c]
}

// IsCosmetic returns true for the categories handled by the stylesheet and
// script generators rather than by request matching
func (c FilterCategory) IsCosmetic() bool {
	return c == CategoryStylesheet || c == CategoryStylesheetJS || c == CategoryStylesheetCustom
}

// Filter is a single parsed rule.  It is treated as immutable once the parser
// returns it; the only exception is the stylesheet exception merge performed
// while building the classification store, which works on a copy.
type Filter struct {
	// Rule is the canonical rule text.  For $badfilter rules the option is
	// stripped, so the text equals the rule being cancelled.
	Rule string

	// EvalString is the comparison string for network rules, the CSS selector
	// for stylesheet rules or the script body for StylesheetJS rules.
	EvalString string

	// ContentSecurityPolicy is set for rules carrying ElementCSP.
	ContentSecurityPolicy string

	// RedirectName is the resource the rule redirects matched requests to.
	RedirectName string

	// RegExp is the compiled pattern of CategoryRegExp rules.
	RegExp *regexp.Regexp

	// DomainBlacklist holds the domains the rule is restricted to (the
	// positive entries of domain= or the domains before ##).
	DomainBlacklist *container.MapSet[string]

	// DomainWhitelist holds the domains the rule is lifted on (the ~negated
	// entries).
	DomainWhitelist *container.MapSet[string]

	Category FilterCategory

	// BlockedTypes are the element types the rule applies to.
	BlockedTypes ElementType

	// AllowedTypes are the ~negated element types.
	AllowedTypes ElementType

	Exception bool
	Important bool
	Disabled  bool
	Redirect  bool
	MatchCase bool
	MatchAll  bool
}

// NewFilter returns a filter for rule with initialized domain sets
func NewFilter(rule string) *Filter {
	return &Filter{
		Rule:            rule,
		DomainBlacklist: container.NewMapSet[string](),
		DomainWhitelist: container.NewMapSet[string](),
	}
}

// MatchRequest is a normalized request checked against network filters
type MatchRequest struct {
	// URL is the lowercased full request URL.
	URL string

	// RawURL is the request URL in its original case, used by match-case
	// rules.  URL is used when it is empty.
	RawURL string

	// FirstPartyDomain is the second-level domain of the page making the
	// request.
	FirstPartyDomain string

	// FirstPartyHost is the host of the page making the request without a
	// leading "www.".  domain= scoping is checked against it.
	FirstPartyHost string

	// Domain is the request host without a leading "www.".
	Domain string

	// SecondLevelDomain is the registrable domain of the request host.
	SecondLevelDomain string

	// Types is the element type mask of the request.
	Types ElementType
}

// typeOrder is the order in which element type restrictions are checked
var typeOrder = [...]ElementType{
	ElementXMLHTTPRequest,
	ElementDocument,
	ElementObject,
	ElementSubdocument,
	ElementImage,
	ElementScript,
	ElementStylesheet,
	ElementWebSocket,
	ElementObjectSubrequest,
	ElementInlineScript,
	ElementPing,
	ElementCSP,
	ElementFont,
	ElementMedia,
	ElementGenericHide,
	ElementOther,
}

// typeIgnoreMask clears the bits that do not restrict a rule to a type
const typeIgnoreMask = ^(ElementThirdParty | ElementMatchCase | ElementCollapse)

// IsException returns true if the filter is an exception (@@ or #@#) rule
func (f *Filter) IsException() bool { return f.Exception }

// IsImportant returns true if the filter carries the important option
func (f *Filter) IsImportant() bool { return f.Important }

// IsRedirect returns true if matched requests are redirected to a resource
func (f *Filter) IsRedirect() bool { return f.Redirect }

// HasDomainRules returns true if the filter is scoped to or away from any
// domain
func (f *Filter) HasDomainRules() bool {
	return setLen(f.DomainBlacklist) > 0 || setLen(f.DomainWhitelist) > 0
}

// HasBlockedType reports whether t is set in the filter's blocked types
func (f *Filter) HasBlockedType(t ElementType) bool {
	return HasElementType(f.BlockedTypes, t)
}

// Match returns true if the network filter applies to req
func (f *Filter) Match(req *MatchRequest) bool {
	if f.Disabled {
		return false
	}

	if f.HasDomainRules() && !f.DomainStyleMatch(cmp.Or(req.FirstPartyHost, req.FirstPartyDomain)) {
		return false
	}

	if req.Types == ElementInlineScript && !f.HasBlockedType(ElementInlineScript) {
		return false
	}

	if f.HasBlockedType(ElementThirdParty) && !req.Types.Has(ElementThirdParty) {
		return false
	}

	if HasElementType(f.AllowedTypes, ElementThirdParty) && req.Types.Has(ElementThirdParty) {
		return false
	}

	match := f.MatchAll
	if !match {
		var ok bool
		match, ok = f.matchPattern(req)
		if !ok {
			return false
		}
	}

	if !match {
		return false
	}

	for _, t := range typeOrder {
		if !req.Types.Has(t) {
			continue
		}

		if HasElementType(f.AllowedTypes, t) {
			return false
		}

		if f.HasBlockedType(t) {
			return true
		}
	}

	return f.BlockedTypes&typeIgnoreMask == ElementNone
}

// matchPattern compares the request to the filter's pattern.  ok is false
// for categories that never match network requests.
func (f *Filter) matchPattern(req *MatchRequest) (match, ok bool) {
	reqURL := req.URL
	if f.MatchCase && req.RawURL != "" {
		reqURL = req.RawURL
	}

	switch f.Category {
	case CategoryDomain:
		return IsDomainMatch(req.Domain, f.EvalString), true
	case CategoryDomainStart:
		return f.domainStartMatch(reqURL, req.SecondLevelDomain), true
	case CategoryStringStartMatch:
		return strings.HasPrefix(reqURL, f.EvalString), true
	case CategoryStringEndMatch:
		return strings.HasSuffix(reqURL, f.EvalString), true
	case CategoryStringExactMatch:
		return reqURL == f.EvalString, true
	case CategoryStringContains:
		return strings.Contains(reqURL, f.EvalString), true
	case CategoryRegExp:
		if f.RegExp == nil {
			return false, false
		}

		return f.RegExp.MatchString(reqURL), true
	default:
		return false, false
	}
}

// domainStartMatch handles ||prefix rules that are not plain domain rules
func (f *Filter) domainStartMatch(reqURL, sld string) bool {
	idx := strings.Index(reqURL, f.EvalString)
	if idx <= 0 {
		return false
	}

	c := reqURL[idx-1]

	return c == '.' || c == '/' || (sld != "" && strings.Contains(f.EvalString, sld))
}

// DomainStyleMatch returns true if the filter's domain scoping applies to
// domain.  It ignores element types and is used for cosmetic rules.
func (f *Filter) DomainStyleMatch(domain string) bool {
	if f.Disabled || domain == "" {
		return false
	}

	blLen, wlLen := setLen(f.DomainBlacklist), setLen(f.DomainWhitelist)
	if blLen == 0 && wlLen == 0 {
		return true
	}

	if setMatches(f.DomainWhitelist, domain) {
		return false
	}

	// Lifted on some domains only, so it applies everywhere else.
	if wlLen > 0 && blLen == 0 {
		return true
	}

	return setMatches(f.DomainBlacklist, domain)
}

// IsDomainMatch returns true if base equals domain or is one of its
// subdomains.  A domain ending with '.' is an entity ("example.*") and matches
// any public suffix.
func IsDomainMatch(base, domain string) bool {
	if domain == "" {
		return false
	}

	if strings.HasSuffix(domain, ".") {
		if i := strings.LastIndexByte(base, '.'); i >= 0 {
			base = base[:i+1]
		}
	}

	if base == domain {
		return true
	}

	if !strings.HasSuffix(base, domain) {
		return false
	}

	return base[len(base)-len(domain)-1] == '.'
}

func setLen(s *container.MapSet[string]) int {
	if s == nil {
		return 0
	}

	return s.Len()
}

func setMatches(s *container.MapSet[string], domain string) (ok bool) {
	if s == nil {
		return false
	}

	s.Range(func(d string) (cont bool) {
		ok = IsDomainMatch(domain, d)

		return !ok
	})

	return ok
}
