package adblock

import (
	"context"
	"strings"

	"github.com/AdguardTeam/golibs/container"
	"github.com/LeFroid/Viper-Browser-sub001/internal/filterstore"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
)

// passSchemes are the schemes of internal requests that are never filtered.
var passSchemes = container.NewMapSet("blocked", "file", "qrc", "viper")

// ShouldBlockRequest decides whether the request for reqURL made by the page
// at firstPartyURL is blocked or redirected.  Important filters cannot be
// overridden by exceptions.  Other blocking filters are only checked against
// the exceptions once one of them matched.
func (m *Manager) ShouldBlockRequest(
	ctx context.Context,
	reqURL string,
	firstPartyURL string,
	rt models.ResourceType,
) (d models.Decision) {
	if !m.enabled.Load() || isPassScheme(reqURL) {
		return models.Decision{}
	}

	req := models.NewMatchRequest(reqURL, firstPartyURL, rt)

	m.mu.RLock()
	defer m.mu.RUnlock()

	st := m.currentStore()

	if f := st.MatchFront(filterstore.BucketImportantBlock, req); f != nil {
		return m.block(ctx, req, firstPartyURL, f, OutcomeImportant)
	}

	f := st.MatchFront(filterstore.BucketBlock, req)
	if f == nil {
		f = st.MatchFront(filterstore.BucketBlockByPattern, req)
	}

	if f == nil {
		m.metrics.IncrementDecisions(ctx, OutcomePass)

		return models.Decision{}
	}

	if allow := st.Match(filterstore.BucketAllow, req); allow != nil {
		m.logger.DebugContext(ctx, "allowed", "url", reqURL, "rule", allow.Rule, "overrides", f.Rule)
		m.metrics.IncrementDecisions(ctx, OutcomeAllowed)

		return models.Decision{}
	}

	return m.block(ctx, req, firstPartyURL, f, OutcomeBlock)
}

// block counts the blocked request and returns the decision for f
func (m *Manager) block(
	ctx context.Context,
	req *models.MatchRequest,
	firstPartyURL string,
	f *models.Filter,
	outcome string,
) (d models.Decision) {
	m.total.Add(1)

	m.pagesMu.Lock()
	m.pages[firstPartyURL]++
	m.pagesMu.Unlock()

	action := OutcomeBlock
	if f.Redirect {
		outcome, action = OutcomeRedirect, OutcomeRedirect
		d.RedirectTo = models.RedirectURL(f.RedirectName)
	} else {
		d.Block = true
	}

	m.log.add(firstPartyURL, LogEntry{
		Time:        m.clock.Now(),
		Action:      action,
		URL:         req.RawURL,
		ElementType: req.Types.String(),
		Rule:        f.Rule,
	})

	m.logger.DebugContext(
		ctx,
		"blocked",
		"url", req.RawURL,
		"first_party", firstPartyURL,
		"rule", f.Rule,
		"outcome", outcome,
	)
	m.metrics.IncrementDecisions(ctx, outcome)

	return d
}

func isPassScheme(rawURL string) (ok bool) {
	scheme, _, found := strings.Cut(rawURL, ":")

	return found && passSchemes.Has(strings.ToLower(scheme))
}

// LoadStarted resets the blocked request counter of the page at pageURL.
func (m *Manager) LoadStarted(pageURL string) {
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()

	m.pages[pageURL] = 0
}

// RequestsBlockedCount returns the total number of blocked requests.
func (m *Manager) RequestsBlockedCount() (n uint64) {
	return m.total.Load()
}

// NumberAdsBlocked returns the number of requests blocked since the page at
// pageURL started loading.
func (m *Manager) NumberAdsBlocked(pageURL string) (n uint64) {
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()

	return m.pages[pageURL]
}
