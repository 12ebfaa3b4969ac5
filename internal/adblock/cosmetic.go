package adblock

import (
	"context"
	"strings"

	"github.com/LeFroid/Viper-Browser-sub001/internal/converter"
	"github.com/LeFroid/Viper-Browser-sub001/internal/filterstore"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
)

// inlineScriptBuckets are searched in order for a filter blocking the inline
// scripts of a page.
var inlineScriptBuckets = [...]filterstore.Bucket{
	filterstore.BucketImportantBlock,
	filterstore.BucketBlock,
	filterstore.BucketBlockByPattern,
}

// Stylesheet returns the global element hiding stylesheet for the page at
// pageURL, or an empty string if the page opted out of generic hiding.
func (m *Manager) Stylesheet(ctx context.Context, pageURL string) (css string) {
	if !m.enabled.Load() {
		return ""
	}

	req := pageRequest(pageURL, models.ElementGenericHide)

	m.mu.RLock()
	defer m.mu.RUnlock()

	st := m.currentStore()
	if f := st.Match(filterstore.BucketGenericHide, req); f != nil {
		m.logger.DebugContext(ctx, "generic hiding disabled", "url", pageURL, "rule", f.Rule)

		return ""
	}

	return st.Stylesheet()
}

// DomainStylesheet returns the element hiding and custom style rules that
// apply to the host of pageURL.
func (m *Manager) DomainStylesheet(ctx context.Context, pageURL string) (css string) {
	domain := pageDomain(pageURL)
	if !m.enabled.Load() || domain == "" {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if css, ok := m.styleCache.Get(domain); ok {
		m.metrics.IncrementCacheLookups(ctx, CacheStylesheet, true)

		return css
	}
	m.metrics.IncrementCacheLookups(ctx, CacheStylesheet, false)

	st := m.currentStore()

	var selectors []string
	for _, f := range st.DomainMatches(filterstore.BucketDomainStyle, domain) {
		if !f.Exception {
			selectors = append(selectors, f.EvalString)
		}
	}

	b := &strings.Builder{}
	b.WriteString(converter.NewSplitter(converter.MaxSelectorsPerRule).Stylesheet(selectors))
	for _, f := range st.DomainMatches(filterstore.BucketCustomStyle, domain) {
		b.WriteString(f.EvalString)
	}

	css = b.String()
	m.styleCache.Put(domain, css)

	return css
}

// DomainJavaScript returns the script injected into the page at pageURL.  It
// runs the script and procedural hiding filters of the host and applies the
// content security policies that match the page.
func (m *Manager) DomainJavaScript(ctx context.Context, pageURL string) (script string) {
	domain := pageDomain(pageURL)
	if !m.enabled.Load() || domain == "" {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if script, ok := m.scriptCache.Get(domain); ok {
		m.metrics.IncrementCacheLookups(ctx, CacheScript, true)

		return script
	}
	m.metrics.IncrementCacheLookups(ctx, CacheScript, false)

	st := m.currentStore()

	body := &strings.Builder{}
	for _, f := range st.DomainMatches(filterstore.BucketDomainJS, domain) {
		body.WriteString(f.EvalString)
	}

	directives := cspDirectives(st, pageURL)

	script = converter.CSPScript(directives) + converter.CosmeticScript(body.String())
	m.scriptCache.Put(domain, script)

	return script
}

// cspDirectives returns the policies to enforce on the page at pageURL.
// Exception filters lift the policy they carry.
func cspDirectives(st *filterstore.Store, pageURL string) (directives []string) {
	inline := pageRequest(pageURL, models.ElementInlineScript)
	for _, b := range inlineScriptBuckets {
		if st.Match(b, inline) != nil {
			directives = append(directives, converter.InlineScriptDirective)

			break
		}
	}

	lifted := map[string]bool{}
	var policies []string
	for _, f := range st.MatchAll(filterstore.BucketCSP, pageRequest(pageURL, models.ElementCSP)) {
		if f.Exception {
			lifted[f.ContentSecurityPolicy] = true
		} else {
			policies = append(policies, f.ContentSecurityPolicy)
		}
	}

	for _, p := range policies {
		if !lifted[p] {
			directives = append(directives, p)
		}
	}

	return directives
}

// pageRequest returns a request for the page itself with the given type
func pageRequest(pageURL string, t models.ElementType) (req *models.MatchRequest) {
	req = models.NewMatchRequest(pageURL, pageURL, models.ResourceMainFrame)
	req.Types = t

	return req
}

// pageDomain returns the host of pageURL without a leading "www."
func pageDomain(pageURL string) (domain string) {
	return models.NormalizeHost(models.HostOf(pageURL))
}
