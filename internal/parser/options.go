package parser

import (
	"strings"

	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
)

// optionTypes maps filter options to the element types they set
var optionTypes = map[string]models.ElementType{
	"script":            models.ElementScript,
	"image":             models.ElementImage,
	"img":               models.ElementImage,
	"stylesheet":        models.ElementStylesheet,
	"css":               models.ElementStylesheet,
	"object":            models.ElementObject,
	"xmlhttprequest":    models.ElementXMLHTTPRequest,
	"xhr":               models.ElementXMLHTTPRequest,
	"object-subrequest": models.ElementObjectSubrequest,
	"subdocument":       models.ElementSubdocument,
	"frame":             models.ElementSubdocument,
	"ping":              models.ElementPing,
	"beacon":            models.ElementPing,
	"websocket":         models.ElementWebSocket,
	"webrtc":            models.ElementWebRTC,
	"document":          models.ElementDocument,
	"doc":               models.ElementDocument,
	"elemhide":          models.ElementElemHide,
	"ehide":             models.ElementElemHide,
	"generichide":       models.ElementGenericHide,
	"ghide":             models.ElementGenericHide,
	"genericblock":      models.ElementGenericBlock,
	"popup":             models.ElementPopUp,
	"third-party":       models.ElementThirdParty,
	"3p":                models.ElementThirdParty,
	"match-case":        models.ElementMatchCase,
	"collapse":          models.ElementCollapse,
	"badfilter":         models.ElementBadFilter,
	"inline-script":     models.ElementInlineScript,
	"font":              models.ElementFont,
	"media":             models.ElementMedia,
	"other":             models.ElementOther,
	"cname":             models.ElementNotImplemented,
	"popunder":          models.ElementNotImplemented,
}

// Redirect resources implied by shorthand options
const (
	redirectEmpty = "nooptext"
	redirectMP4   = "noopmp4-1s"
)

// parseOptions applies the comma separated options of a network rule
func (p *Parser) parseOptions(s string, f *models.Filter) {
	var kept []string
	badFilter := false

	for _, option := range strings.Split(s, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}

		negated := strings.HasPrefix(option, "~")
		name := strings.ToLower(strings.TrimPrefix(option, "~"))

		if name == "badfilter" {
			badFilter = true
		} else {
			kept = append(kept, option)
		}

		if t, ok := optionTypes[name]; ok {
			if t == models.ElementNotImplemented {
				p.skip(f, SkipUnsupportedOpt)
				continue
			}

			if t == models.ElementMatchCase {
				f.MatchCase = !negated
			}

			switch {
			case negated:
				f.AllowedTypes |= t
			case f.Exception && t == models.ElementDocument:
				// Exceptions may not disable filtering for a whole page.
				f.Disabled = true
				f.BlockedTypes |= t
			default:
				f.BlockedTypes |= t
			}

			continue
		}

		key, value, _ := strings.Cut(option, "=")
		switch strings.ToLower(key) {
		case "domain":
			parseDomainList(value, "|", f)
		case "csp":
			f.BlockedTypes |= models.ElementCSP
			f.ContentSecurityPolicy = value
		case "redirect", "redirect-rule":
			f.Redirect = true
			f.RedirectName = value
		case "empty":
			f.Redirect = true
			f.RedirectName = redirectEmpty
		case "mp4":
			f.Redirect = true
			f.RedirectName = redirectMP4
		case "first-party", "1p":
			f.AllowedTypes |= models.ElementThirdParty
		case "all":
			f.BlockedTypes |= models.ElementAll
		case "important":
			f.Important = !f.Exception
		default:
			p.skip(f, SkipUnsupportedOpt)
		}
	}

	// The canonical text of a bad filter is the rule it cancels
	if badFilter {
		pattern := f.Rule[:strings.LastIndexByte(f.Rule, '$')]
		if len(kept) > 0 {
			pattern += "$" + strings.Join(kept, ",")
		}

		f.Rule = pattern
	}
}
