package models

import (
	"net/url"
	"strings"
)

// Decision is the outcome of checking a single request
type Decision struct {
	// RedirectTo is set when the request must be replaced by a placeholder
	// resource.  Block is false in that case, the redirect itself suppresses
	// the original request.
	RedirectTo string `json:"redirect_to,omitempty"`

	// Block is true if the request must be cancelled.
	Block bool `json:"block"`
}

// BlockedScheme prefixes redirect targets of blocked requests
const BlockedScheme = "blocked:"

// RedirectURL returns the synthetic URL for a redirect to the named resource
func RedirectURL(name string) string {
	return BlockedScheme + name
}

// NewMatchRequest normalizes a request made by the page at firstPartyURL
func NewMatchRequest(reqURL, firstPartyURL string, rt ResourceType) *MatchRequest {
	host := HostOf(reqURL)
	reqSLD := SecondLevelDomain(host)

	domain := NormalizeHost(host)
	if domain == "" {
		domain = reqSLD
	}

	fpHost := HostOf(firstPartyURL)
	fpSLD := SecondLevelDomain(fpHost)
	if fpSLD == "" {
		fpSLD = fpHost
	}

	types := ElementTypeOf(rt, reqURL)
	if isWebSocket(reqURL) {
		types |= ElementWebSocket
	}
	if reqSLD != fpSLD {
		types |= ElementThirdParty
	}

	return &MatchRequest{
		URL:               strings.ToLower(reqURL),
		RawURL:            reqURL,
		FirstPartyDomain:  fpSLD,
		FirstPartyHost:    NormalizeHost(fpHost),
		Domain:            domain,
		SecondLevelDomain: reqSLD,
		Types:             types,
	}
}

// ElementTypeOf maps the host's resource type to an element type mask.
// Generic sub-resources are treated as subdocuments when their path looks
// like a document and as Other otherwise.
func ElementTypeOf(rt ResourceType, reqURL string) ElementType {
	switch rt {
	case ResourceMainFrame:
		return ElementDocument
	case ResourceSubFrame:
		return ElementSubdocument
	case ResourceStylesheet:
		return ElementStylesheet
	case ResourceScript:
		return ElementScript
	case ResourceImage:
		return ElementImage
	case ResourceXHR:
		return ElementXMLHTTPRequest
	case ResourcePing:
		return ElementPing
	case ResourceObject:
		return ElementObject
	case ResourcePluginResource:
		return ElementObjectSubrequest
	case ResourceFontResource:
		return ElementFont
	case ResourceMedia:
		return ElementMedia
	case ResourceSubResource:
		if looksLikeDocument(reqURL) {
			return ElementSubdocument
		}

		return ElementOther
	default:
		return ElementOther
	}
}

func looksLikeDocument(reqURL string) bool {
	p := reqURL
	if u, err := url.Parse(reqURL); err == nil {
		p = u.Path
	}

	p = strings.ToLower(p)

	return strings.HasSuffix(p, "htm") || strings.HasSuffix(p, "html") || strings.HasSuffix(p, "xml")
}

func isWebSocket(reqURL string) bool {
	scheme, _, ok := strings.Cut(reqURL, "://")

	return ok && (strings.EqualFold(scheme, "ws") || strings.EqualFold(scheme, "wss"))
}
