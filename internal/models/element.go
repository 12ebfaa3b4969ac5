package models

import "strings"

// ElementType is a bitmask of the element types a request belongs to or a
// filter applies to
type ElementType uint64

// Element type flags
const (
	ElementNone             ElementType = 0
	ElementScript           ElementType = 0x00000001
	ElementImage            ElementType = 0x00000002
	ElementStylesheet       ElementType = 0x00000004
	ElementObject           ElementType = 0x00000008
	ElementXMLHTTPRequest   ElementType = 0x00000010
	ElementObjectSubrequest ElementType = 0x00000020
	ElementSubdocument      ElementType = 0x00000040
	ElementPing             ElementType = 0x00000080
	ElementWebSocket        ElementType = 0x00000100
	ElementWebRTC           ElementType = 0x00000200
	ElementDocument         ElementType = 0x00000400
	ElementElemHide         ElementType = 0x00000800
	ElementGenericHide      ElementType = 0x00001000
	ElementGenericBlock     ElementType = 0x00002000
	ElementPopUp            ElementType = 0x00004000
	ElementThirdParty       ElementType = 0x00008000
	ElementMatchCase        ElementType = 0x00010000
	ElementCollapse         ElementType = 0x00020000
	ElementBadFilter        ElementType = 0x00040000
	ElementCSP              ElementType = 0x00080000
	ElementInlineScript     ElementType = 0x00100000
	ElementDenyAllow        ElementType = 0x00200000
	ElementOther            ElementType = 0x00400000
	ElementNotImplemented   ElementType = 0x00800000
	ElementFont             ElementType = 0x01000000
	ElementMedia            ElementType = 0x02000000
)

// ElementAll is the mask set by the "all" filter option
const ElementAll = ElementScript | ElementImage | ElementStylesheet | ElementObject |
	ElementXMLHTTPRequest | ElementObjectSubrequest | ElementSubdocument | ElementPing |
	ElementWebSocket | ElementWebRTC | ElementDocument | ElementPopUp | ElementInlineScript |
	ElementFont | ElementMedia | ElementOther

// elementNames is used by String, in bit order
var elementNames = []struct {
	t    ElementType
	name string
}{
	{ElementScript, "script"},
	{ElementImage, "image"},
	{ElementStylesheet, "stylesheet"},
	{ElementObject, "object"},
	{ElementXMLHTTPRequest, "xmlhttprequest"},
	{ElementObjectSubrequest, "object-subrequest"},
	{ElementSubdocument, "subdocument"},
	{ElementPing, "ping"},
	{ElementWebSocket, "websocket"},
	{ElementWebRTC, "webrtc"},
	{ElementDocument, "document"},
	{ElementElemHide, "elemhide"},
	{ElementGenericHide, "generichide"},
	{ElementGenericBlock, "genericblock"},
	{ElementPopUp, "popup"},
	{ElementThirdParty, "third-party"},
	{ElementMatchCase, "match-case"},
	{ElementCollapse, "collapse"},
	{ElementBadFilter, "badfilter"},
	{ElementCSP, "csp"},
	{ElementInlineScript, "inline-script"},
	{ElementDenyAllow, "denyallow"},
	{ElementOther, "other"},
	{ElementNotImplemented, "not-implemented"},
	{ElementFont, "font"},
	{ElementMedia, "media"},
}

// HasElementType returns true if every bit of target is set in subject
func HasElementType(subject, target ElementType) bool {
	return subject&target == target
}

// Has is a shorthand for HasElementType(t, target)
func (t ElementType) Has(target ElementType) bool {
	return HasElementType(t, target)
}

// String returns the option names of the set bits joined by '|'
func (t ElementType) String() string {
	if t == ElementNone {
		return "none"
	}

	var parts []string
	for _, en := range elementNames {
		if t.Has(en.t) {
			parts = append(parts, en.name)
		}
	}

	return strings.Join(parts, "|")
}

// ResourceType is the host's classification of an outgoing request
type ResourceType int

// Resource types reported by the host
const (
	ResourceMainFrame ResourceType = iota
	ResourceSubFrame
	ResourceStylesheet
	ResourceScript
	ResourceImage
	ResourceFontResource
	ResourceSubResource
	ResourceObject
	ResourceMedia
	ResourceWorker
	ResourceSharedWorker
	ResourcePrefetch
	ResourceFavicon
	ResourceXHR
	ResourcePing
	ResourceServiceWorker
	ResourceCSPReport
	ResourcePluginResource
	ResourceUnknown
)

var resourceTypeNames = map[string]ResourceType{
	"main_frame":      ResourceMainFrame,
	"document":        ResourceMainFrame,
	"sub_frame":       ResourceSubFrame,
	"subdocument":     ResourceSubFrame,
	"stylesheet":      ResourceStylesheet,
	"script":          ResourceScript,
	"image":           ResourceImage,
	"font":            ResourceFontResource,
	"sub_resource":    ResourceSubResource,
	"object":          ResourceObject,
	"media":           ResourceMedia,
	"worker":          ResourceWorker,
	"shared_worker":   ResourceSharedWorker,
	"prefetch":        ResourcePrefetch,
	"favicon":         ResourceFavicon,
	"xhr":             ResourceXHR,
	"xmlhttprequest":  ResourceXHR,
	"ping":            ResourcePing,
	"service_worker":  ResourceServiceWorker,
	"csp_report":      ResourceCSPReport,
	"plugin_resource": ResourcePluginResource,
	"other":           ResourceUnknown,
}

// ParseResourceType maps a resource type name to its ResourceType.  Unknown
// names map to ResourceUnknown.
func ParseResourceType(s string) ResourceType {
	if rt, ok := resourceTypeNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return rt
	}

	return ResourceUnknown
}
