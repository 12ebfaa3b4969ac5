package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LeFroid/Viper-Browser-sub001/internal/converter"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
)

// Cosmetic rule markers
var (
	unsupportedMarkers = []string{"##^", "#%#", "#@%#", "#$#", "#@$#"}
	exceptionMarkers   = []string{"#@#", "#@?#"}
	hideMarkers        = []string{"##", "#?#"}
	scriptKeywords     = []string{"+js(", "script:inject("}
)

// SkipScriptException is recorded for #@#+js() rules
const SkipScriptException = "script-exception (#@#+js)"

// directive is a procedural operator found in a cosmetic selector
type directive struct {
	name  string
	index int
}

// end returns the position after the opening parenthesis of d
func (d directive) end() int {
	return d.index + len(d.name)
}

// Procedural operators
const (
	opHas              = ":has("
	opHasText          = ":has-text("
	opIf               = ":if("
	opIfNot            = ":if-not("
	opNot              = ":not("
	opMatchesCSS       = ":matches-css("
	opMatchesCSSBefore = ":matches-css-before("
	opMatchesCSSAfter  = ":matches-css-after("
	opXPath            = ":xpath("
	opNthAncestor      = ":nth-ancestor("
	opMinTextLength    = ":min-text-length("
	opUpward           = ":upward("
	opRemove           = ":remove("
)

// callbacks maps the operators that select nodes to their helper in the
// cosmetic script
var callbacks = map[string]string{
	opHasText:          "hasText",
	opMatchesCSS:       "matchesCSS",
	opMatchesCSSBefore: "matchesCSSBefore",
	opMatchesCSSAfter:  "matchesCSSAfter",
	opXPath:            "doXPath",
	opNthAncestor:      "nthAncestor",
	opMinTextLength:    "minTextLength",
	opUpward:           "upwardMatch",
	opRemove:           "removeNodes",
}

var operators = []string{
	opHas, opHasText, opIf, opIfNot, opNot,
	opMatchesCSS, opMatchesCSSBefore, opMatchesCSSAfter,
	opXPath, opNthAncestor, opMinTextLength, opUpward, opRemove,
}

// nativeOperators are valid CSS without translation
var nativeOperators = map[string]bool{opHas: true, opNot: true}

// selectorAliases rewrites ABP and AdGuard spellings to their uBlock form
var selectorAliases = strings.NewReplacer(
	":-abp-contains(", ":has-text(",
	":-abp-has(", ":if(",
)

const extHasAttr = "[-ext-has="

// parseCosmetic handles element hiding, custom style and script injection
// rules.  It returns false if rule is not cosmetic.
func (p *Parser) parseCosmetic(rule string, f *models.Filter) bool {
	for _, marker := range unsupportedMarkers {
		if strings.Contains(rule, marker) {
			reason := SkipAdGuardDirective
			if marker == "##^" {
				reason = SkipHTMLFilter
			}
			p.skip(f, reason)

			return true
		}
	}

	for _, marker := range exceptionMarkers {
		if pos := strings.Index(rule, marker); pos >= 0 {
			f.Exception = true
			p.parseHide(rule, pos, marker, f)

			return true
		}
	}

	for _, marker := range hideMarkers {
		if pos := strings.Index(rule, marker); pos >= 0 {
			p.parseHide(rule, pos, marker, f)

			return true
		}
	}

	return false
}

// parseHide classifies the selector following marker
func (p *Parser) parseHide(rule string, pos int, marker string, f *models.Filter) {
	f.Category = models.CategoryStylesheet
	if pos > 0 {
		parseDomainList(rule[:pos], ",", f)
	}
	f.EvalString = rule[pos+len(marker):]

	switch {
	case hasScriptKeyword(f.EvalString):
		p.parseScriptInjection(f)
	case f.Exception:
	case strings.Contains(f.EvalString, ":style("):
		parseCustomStyle(f)
	default:
		p.parseProcedural(f)
	}
}

func hasScriptKeyword(s string) bool {
	for _, kw := range scriptKeywords {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}

	return false
}

// parseCustomStyle turns "sel:style(decl)" into "sel { decl } "
func parseCustomStyle(f *models.Filter) {
	i := strings.Index(f.EvalString, ":style(")
	style := f.EvalString[i+len(":style("):]
	if end := strings.LastIndexByte(style, ')'); end >= 0 {
		style = style[:end]
	}

	f.EvalString = fmt.Sprintf("%s { %s } ", f.EvalString[:i], style)
	f.Category = models.CategoryStylesheetCustom
}

// parseScriptInjection replaces a +js(name, args...) rule with the body of
// the named resource
func (p *Parser) parseScriptInjection(f *models.Filter) {
	switch {
	case f.Exception:
		p.skip(f, SkipScriptException)
		return
	case !f.HasDomainRules():
		p.skip(f, SkipGenericScript)
		return
	}

	body := f.EvalString
	for _, kw := range scriptKeywords {
		body = strings.TrimPrefix(body, kw)
	}
	if end := strings.LastIndexByte(body, ')'); end >= 0 {
		body = body[:end]
	}

	var args []string
	for _, arg := range strings.Split(body, ",") {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}
	if len(args) == 0 {
		p.skip(f, SkipMissingResource)
		return
	}

	script := ""
	if p.resources != nil {
		script = p.resources(args[0])
	}
	if script == "" {
		p.stats.SkipReasons[SkipMissingResource]++
		f.Category = models.CategoryScriptlet
		return
	}

	for i, arg := range args[1:] {
		term := fmt.Sprintf("{{%d}}", i+1)
		script = strings.Replace(script, term, escapeQuotes(arg), 1)
	}

	f.EvalString = converter.SafeScript(script)
	f.Category = models.CategoryStylesheetJS
}

// parseProcedural translates procedural operators into calls to the
// cosmetic script helpers
func (p *Parser) parseProcedural(f *models.Filter) {
	eval := selectorAliases.Replace(f.EvalString)
	eval = translateExtHas(eval)

	if strings.Contains(eval, ":-abp-") {
		p.skip(f, SkipABPProcedural)
		return
	}

	eval = strings.ReplaceAll(eval, ":not(:has(", ":if-not(")

	found := findDirectives(eval)
	if len(found) == 0 {
		return
	}

	if !f.HasDomainRules() {
		for _, d := range found {
			if !nativeOperators[d.name] {
				p.skip(f, SkipGenericProcedural)
				return
			}
		}

		return
	}

	first := found[0]
	arg := directiveArg(eval, first)
	nested := nestedDirectives(found, first, len(arg))

	if first.name == opNot && len(nested) == 0 {
		return
	}

	subject := eval[:first.index]
	if subject == "" {
		subject = "*"
	}
	subject = escapeQuotes(subject)

	switch first.name {
	case opHas, opIf, opIfNot, opNot:
		negate := first.name == opIfNot || first.name == opNot
		f.EvalString = hideIfScript(subject, arg, first, nested, negate)
	case opHasText:
		f.EvalString = fmt.Sprintf("hideNodes(hasText, '%s', %s); ", subject, quoteArg(arg))
	case opMinTextLength:
		f.EvalString = fmt.Sprintf("hideNodes(minTextLength, '%s', %s); ", subject, escapeQuotes(arg))
	case opRemove:
		f.EvalString = fmt.Sprintf("hideNodes(removeNodes, '%s', ''); ", subject)
	default:
		f.EvalString = fmt.Sprintf("hideNodes(%s, '%s', '%s'); ", callbacks[first.name], subject, escapeQuotes(arg))
	}

	f.Category = models.CategoryStylesheetJS
}

// hideIfScript builds the call for :has, :if, :if-not and :not.  A nested
// selecting operator is passed to the chain helpers as a callback.
func hideIfScript(subject, arg string, first directive, nested []directive, negate bool) string {
	if len(nested) > 0 {
		inner := nested[0]
		if callback, ok := callbacks[inner.name]; ok {
			offset := inner.index - first.end()
			chainSubject := arg[:offset]
			chainTarget := directiveArg(arg, directive{name: inner.name, index: offset})

			helper := "hideIfChain"
			if negate {
				helper = "hideIfNotChain"
			}

			return fmt.Sprintf("%s('%s', '%s', %s, %s); ",
				helper, subject, escapeQuotes(chainSubject), quoteArg(chainTarget), callback)
		}
	}

	helper := "hideIfHas"
	if negate {
		helper = "hideIfNotHas"
	}

	return fmt.Sprintf("%s('%s', '%s'); ", helper, subject, escapeQuotes(arg))
}

// translateExtHas rewrites [-ext-has='sel'] into :if(sel)
func translateExtHas(s string) string {
	i := strings.Index(s, extHasAttr)
	if i < 0 || i+len(extHasAttr) >= len(s) {
		return s
	}

	start := i + len(extHasAttr)
	quote := s[start]
	end := strings.IndexByte(s[start+1:], quote)
	if end < 0 {
		return s
	}
	end += start + 1

	rest := s[end+1:]
	rest = strings.TrimPrefix(rest, "]")

	return s[:i] + ":if(" + s[start+1:end] + ")" + rest
}

// findDirectives returns every procedural operator in s ordered by position
func findDirectives(s string) []directive {
	var found []directive
	for _, op := range operators {
		for from := 0; ; {
			i := strings.Index(s[from:], op)
			if i < 0 {
				break
			}

			found = append(found, directive{name: op, index: from + i})
			from += i + len(op)
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].index < found[j].index
	})

	return found
}

// directiveArg returns the argument of d, up to its balanced closing
// parenthesis
func directiveArg(s string, d directive) string {
	arg := s[d.end():]

	depth := 0
	for i := 0; i < len(arg); i++ {
		switch arg[i] {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return arg[:i]
			}
			depth--
		}
	}

	if end := strings.LastIndexByte(arg, ')'); end >= 0 {
		return arg[:end]
	}

	return arg
}

// nestedDirectives returns the directives found inside the argument of first
func nestedDirectives(found []directive, first directive, argLen int) []directive {
	var nested []directive
	for _, d := range found[1:] {
		if d.index < first.end()+argLen {
			nested = append(nested, d)
		}
	}

	return nested
}

// isRegexArg reports whether a procedural argument is a /regex/flags literal
func isRegexArg(arg string) bool {
	return strings.HasPrefix(arg, "/") &&
		(strings.HasSuffix(arg, "/") || strings.LastIndexByte(arg, '/')+3 >= len(arg))
}

// quoteArg passes regular expressions through as JavaScript literals and
// quotes everything else
func quoteArg(arg string) string {
	if len(arg) > 1 && isRegexArg(arg) {
		return arg
	}

	return "'" + escapeQuotes(arg) + "'"
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
