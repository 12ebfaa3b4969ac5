package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule_Network(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		category models.FilterCategory
		eval     string
		blocked  models.ElementType
		allowed  models.ElementType
	}{
		{
			name:     "domain rule",
			rule:     "||ads.example.com^",
			category: models.CategoryDomain,
			eval:     "ads.example.com",
		},
		{
			name:     "domain start",
			rule:     "||google-analytics.com/ga.js$script",
			category: models.CategoryDomainStart,
			eval:     "google-analytics.com/ga.js",
			blocked:  models.ElementScript,
		},
		{
			name:     "anchored domain start",
			rule:     "||example.com/ad.js|",
			category: models.CategoryRegExp,
		},
		{
			name:     "wildcard",
			rule:     "||example.com/ads/*.js",
			category: models.CategoryRegExp,
		},
		{
			name:     "regex literal",
			rule:     `/banner\d+\.gif/$image`,
			category: models.CategoryRegExp,
			blocked:  models.ElementImage,
		},
		{
			name:     "exact",
			rule:     "|http://example.com/|",
			category: models.CategoryStringExactMatch,
			eval:     "http://example.com/",
		},
		{
			name:     "start",
			rule:     "|https://$image,media,script,third-party",
			category: models.CategoryStringStartMatch,
			eval:     "https://",
			blocked:  models.ElementImage | models.ElementMedia | models.ElementScript | models.ElementThirdParty,
		},
		{
			name:     "end",
			rule:     "ad.swf|",
			category: models.CategoryStringEndMatch,
			eval:     "ad.swf",
		},
		{
			name:     "contains lowercased",
			rule:     "-Ad-Banner.",
			category: models.CategoryStringContains,
			eval:     "-ad-banner.",
		},
		{
			name:     "match case keeps case",
			rule:     "-Ad-Banner.$match-case",
			category: models.CategoryStringContains,
			eval:     "-Ad-Banner.",
			blocked:  models.ElementMatchCase,
		},
		{
			name:     "negated type",
			rule:     "-ad-$~script,~third-party",
			category: models.CategoryStringContains,
			eval:     "-ad-",
			allowed:  models.ElementScript | models.ElementThirdParty,
		},
		{
			name:     "first party",
			rule:     "-ad-$first-party",
			category: models.CategoryStringContains,
			eval:     "-ad-",
			allowed:  models.ElementThirdParty,
		},
		{
			name:     "unsupported option",
			rule:     "||example.com^$removeparam=utm_source",
			category: models.CategoryNotImplemented,
		},
		{
			name:     "popunder",
			rule:     "||example.com^$popunder",
			category: models.CategoryNotImplemented,
		},
		{
			name:     "lookahead regex",
			rule:     `/ads(?=\.js)/`,
			category: models.CategoryNotImplemented,
		},
	}

	p := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := p.ParseRule(tt.rule)

			assert.Equal(t, tt.category, f.Category)
			if tt.eval != "" {
				assert.Equal(t, tt.eval, f.EvalString)
			}
			assert.Equal(t, tt.blocked, f.BlockedTypes)
			assert.Equal(t, tt.allowed, f.AllowedTypes)
		})
	}
}

func TestParseRule_Options(t *testing.T) {
	p := New(nil)

	t.Run("exception", func(t *testing.T) {
		f := p.ParseRule("@@||mycdn.com^$image,media,object,stylesheet,domain=watchvid.com")
		assert.True(t, f.IsException())
		assert.Equal(t, models.CategoryDomain, f.Category)
		assert.True(t, f.DomainBlacklist.Has("watchvid.com"))
	})

	t.Run("domain list", func(t *testing.T) {
		f := p.ParseRule("-ad-$domain=a.com|~b.a.com|example.*")
		assert.True(t, f.DomainBlacklist.Has("a.com"))
		assert.True(t, f.DomainBlacklist.Has("example."))
		assert.True(t, f.DomainWhitelist.Has("b.a.com"))
	})

	t.Run("document exception is disabled", func(t *testing.T) {
		f := p.ParseRule("@@||example.com^$document")
		assert.True(t, f.Disabled)
	})

	t.Run("important", func(t *testing.T) {
		assert.True(t, p.ParseRule("||example.com^$important").IsImportant())
		assert.False(t, p.ParseRule("@@||example.com^$important").IsImportant())
	})

	t.Run("redirect", func(t *testing.T) {
		f := p.ParseRule("||google-analytics.com/ga.js$script,redirect=google-analytics.com/ga.js")
		assert.True(t, f.IsRedirect())
		assert.Equal(t, "google-analytics.com/ga.js", f.RedirectName)

		f = p.ParseRule("||example.com/video$empty")
		assert.Equal(t, "nooptext", f.RedirectName)

		f = p.ParseRule("||example.com/video$mp4")
		assert.Equal(t, "noopmp4-1s", f.RedirectName)
	})

	t.Run("csp", func(t *testing.T) {
		f := p.ParseRule("||example.com^$csp=script-src 'none'")
		assert.True(t, f.HasBlockedType(models.ElementCSP))
		assert.Equal(t, "script-src 'none'", f.ContentSecurityPolicy)
	})

	t.Run("blob scheme becomes policy", func(t *testing.T) {
		f := p.ParseRule("|blob:$script,domain=example.com")
		assert.Equal(t, models.CategoryDomain, f.Category)
		assert.True(t, f.MatchAll)
		assert.True(t, f.HasBlockedType(models.ElementCSP))
		assert.Equal(t, "script-src 'self' * data: 'unsafe-inline' 'unsafe-eval'", f.ContentSecurityPolicy)
	})

	t.Run("badfilter canonical rule", func(t *testing.T) {
		f := p.ParseRule("||ads.example.com^$badfilter")
		assert.True(t, f.HasBlockedType(models.ElementBadFilter))
		assert.Equal(t, "||ads.example.com^", f.Rule)

		f = p.ParseRule("||ads.example.com^$script,badfilter,domain=a.com")
		assert.Equal(t, "||ads.example.com^$script,domain=a.com", f.Rule)
	})

	t.Run("dollar inside pattern", func(t *testing.T) {
		f := p.ParseRule("ads$1$image")
		assert.Equal(t, models.ElementImage, f.BlockedTypes)
		assert.Equal(t, "ads$1", f.EvalString)
	})
}

func TestParseRule_Matching(t *testing.T) {
	p := New(nil)

	tests := []struct {
		name     string
		rule     string
		url      string
		page     string
		rt       models.ResourceType
		expected bool
	}{
		{
			name:     "block on first party domain",
			rule:     "|https://$image,media,script,third-party,domain=watchvid.com",
			url:      "https://subdomain.mycdn.com/videos/thumbnails/5.jpg",
			page:     "https://www.watchvid.com/watch?id=123456",
			rt:       models.ResourceImage,
			expected: true,
		},
		{
			name:     "allow on first party domain",
			rule:     "@@||mycdn.com^$image,media,object,stylesheet,domain=watchvid.com",
			url:      "https://subdomain.mycdn.com/videos/thumbnails/5.jpg",
			page:     "https://www.watchvid.com/watch?id=123456",
			rt:       models.ResourceImage,
			expected: true,
		},
		{
			name:     "script on first party domain",
			rule:     "||mssl.fwmrm.net$script,domain=zerohedge.com",
			url:      "https://mssl.fwmrm.net/p/nbcu_live/AdManager.js",
			page:     "https://www.zerohedge.com/",
			rt:       models.ResourceScript,
			expected: true,
		},
		{
			name:     "script elsewhere",
			rule:     "||mssl.fwmrm.net$script,domain=zerohedge.com",
			url:      "https://mssl.fwmrm.net/p/nbcu_live/AdManager.js",
			page:     "https://unrelatedsite.com/",
			rt:       models.ResourceScript,
			expected: false,
		},
		{
			name:     "redirect rule",
			rule:     "||google-analytics.com/ga.js$script,redirect=google-analytics.com/ga.js",
			url:      "https://ssl.google-analytics.com/ga.js",
			page:     "https://unrelatedsite.com",
			rt:       models.ResourceScript,
			expected: true,
		},
		{
			name:     "wildcard",
			rule:     "||example.com/ads/*.js",
			url:      "https://cdn.example.com/ads/x/y.js",
			page:     "https://news.com",
			rt:       models.ResourceScript,
			expected: true,
		},
		{
			name:     "regex",
			rule:     `/banner\d+\.gif/$image`,
			url:      "https://cdn.net/banner12.gif",
			page:     "https://news.com",
			rt:       models.ResourceImage,
			expected: true,
		},
		{
			name:     "match case",
			rule:     "-Ad-Banner.$match-case",
			url:      "https://cdn.net/x-ad-banner.png",
			page:     "https://news.com",
			rt:       models.ResourceImage,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := p.ParseRule(tt.rule)
			req := models.NewMatchRequest(tt.url, tt.page, tt.rt)
			assert.Equal(t, tt.expected, f.Match(req))
		})
	}
}

func TestParseRule_Cosmetic(t *testing.T) {
	p := New(nil)

	tests := []struct {
		name      string
		rule      string
		category  models.FilterCategory
		eval      string
		exception bool
	}{
		{name: "generic hide", rule: "##.ad", category: models.CategoryStylesheet, eval: ".ad"},
		{name: "extended marker", rule: "example.com#?#.ad", category: models.CategoryStylesheet, eval: ".ad"},
		{name: "exception", rule: "example.com#@#.ad", category: models.CategoryStylesheet, eval: ".ad", exception: true},
		{name: "extended exception", rule: "example.com#@?#.ad", category: models.CategoryStylesheet, eval: ".ad", exception: true},
		{name: "html filter", rule: "example.com##^script", category: models.CategoryNotImplemented},
		{name: "adguard script", rule: "example.com#%#window.x = 1", category: models.CategoryNotImplemented},
		{name: "adguard css", rule: "example.com#$#body { color: red }", category: models.CategoryNotImplemented},
		{
			name:     "custom style",
			rule:     "example.com##.x:style(color: red)",
			category: models.CategoryStylesheetCustom,
			eval:     ".x { color: red } ",
		},
		{
			name:     "has text",
			rule:     "example.com##div:has-text(Sponsored)",
			category: models.CategoryStylesheetJS,
			eval:     "hideNodes(hasText, 'div', 'Sponsored'); ",
		},
		{
			name:     "has text regex",
			rule:     "example.com##div:has-text(/spons/i)",
			category: models.CategoryStylesheetJS,
			eval:     "hideNodes(hasText, 'div', /spons/i); ",
		},
		{
			name:     "abp contains",
			rule:     "example.com##div:-abp-contains(Ad)",
			category: models.CategoryStylesheetJS,
			eval:     "hideNodes(hasText, 'div', 'Ad'); ",
		},
		{
			name:     "if",
			rule:     "example.com##.item:if(.ad)",
			category: models.CategoryStylesheetJS,
			eval:     "hideIfHas('.item', '.ad'); ",
		},
		{
			name:     "abp has",
			rule:     "example.com##.item:-abp-has(.ad)",
			category: models.CategoryStylesheetJS,
			eval:     "hideIfHas('.item', '.ad'); ",
		},
		{
			name:     "ext has",
			rule:     "example.com##div[-ext-has='.ad']",
			category: models.CategoryStylesheetJS,
			eval:     "hideIfHas('div', '.ad'); ",
		},
		{
			name:     "not has",
			rule:     "example.com##.item:not(:has(.ad))",
			category: models.CategoryStylesheetJS,
			eval:     "hideIfNotHas('.item', '.ad'); ",
		},
		{
			name:     "plain not",
			rule:     "example.com##.item:not(.ad)",
			category: models.CategoryStylesheet,
			eval:     ".item:not(.ad)",
		},
		{
			name:     "chained",
			rule:     "example.com##.item:if(span:has-text(Ad))",
			category: models.CategoryStylesheetJS,
			eval:     "hideIfChain('.item', 'span', 'Ad', hasText); ",
		},
		{
			name:     "negated chain",
			rule:     "example.com##.item:if-not(span:has-text(/^news/))",
			category: models.CategoryStylesheetJS,
			eval:     "hideIfNotChain('.item', 'span', /^news/, hasText); ",
		},
		{
			name:     "xpath without subject",
			rule:     "example.com##:xpath(//div[@id='ad'])",
			category: models.CategoryStylesheetJS,
			eval:     `hideNodes(doXPath, '*', '//div[@id=\'ad\']'); `,
		},
		{
			name:     "min text length",
			rule:     "example.com##.x:min-text-length(100)",
			category: models.CategoryStylesheetJS,
			eval:     "hideNodes(minTextLength, '.x', 100); ",
		},
		{
			name:     "upward",
			rule:     "example.com##.x:upward(2)",
			category: models.CategoryStylesheetJS,
			eval:     "hideNodes(upwardMatch, '.x', '2'); ",
		},
		{
			name:     "remove",
			rule:     "example.com##.x:remove()",
			category: models.CategoryStylesheetJS,
			eval:     "hideNodes(removeNodes, '.x', ''); ",
		},
		{name: "generic procedural", rule: "##div:has-text(Ad)", category: models.CategoryNotImplemented},
		{name: "generic native has", rule: "##div:has(.ad)", category: models.CategoryStylesheet, eval: "div:has(.ad)"},
		{name: "abp properties", rule: "example.com##.x:-abp-properties(width:1px)", category: models.CategoryNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := p.ParseRule(tt.rule)

			assert.Equal(t, tt.category, f.Category)
			assert.Equal(t, tt.exception, f.IsException())
			if tt.eval != "" {
				assert.Equal(t, tt.eval, f.EvalString)
			}
		})
	}
}

func TestParseRule_CosmeticDomains(t *testing.T) {
	p := New(nil)

	f := p.ParseRule("slashdot.org,~m.slashdot.org##.ntv-sponsored")
	require.Equal(t, models.CategoryStylesheet, f.Category)
	assert.True(t, f.DomainBlacklist.Has("slashdot.org"))
	assert.True(t, f.DomainWhitelist.Has("m.slashdot.org"))

	assert.True(t, f.DomainStyleMatch("developers.slashdot.org"))
	assert.True(t, f.DomainStyleMatch("slashdot.org"))
	assert.False(t, f.DomainStyleMatch("m.slashdot.org"))
	assert.False(t, f.DomainStyleMatch("example.com"))
}

func TestParseRule_ScriptInjection(t *testing.T) {
	resources := map[string]string{
		"set-constant.js": "var a = '{{1}}'; var b = '{{2}}'; var c = '{{1}}';",
	}
	p := New(func(name string) string { return resources[name] })

	t.Run("arguments", func(t *testing.T) {
		f := p.ParseRule("example.com##+js(set-constant.js, foo, it's)")
		require.Equal(t, models.CategoryStylesheetJS, f.Category)
		assert.Contains(t, f.EvalString, `var a = 'foo'; var b = 'it\'s'; var c = '{{1}}';`)
		assert.True(t, strings.HasPrefix(f.EvalString, "try {"))
	})

	t.Run("legacy keyword", func(t *testing.T) {
		f := p.ParseRule("example.com##script:inject(set-constant.js)")
		assert.Equal(t, models.CategoryStylesheetJS, f.Category)
	})

	t.Run("generic", func(t *testing.T) {
		f := p.ParseRule("##+js(set-constant.js, foo)")
		assert.Equal(t, models.CategoryNotImplemented, f.Category)
	})

	t.Run("missing resource", func(t *testing.T) {
		f := p.ParseRule("example.com##+js(missing.js)")
		assert.Equal(t, models.CategoryScriptlet, f.Category)
	})

	t.Run("exception", func(t *testing.T) {
		f := p.ParseRule("example.com#@#+js(set-constant.js)")
		assert.Equal(t, models.CategoryNotImplemented, f.Category)
	})

	t.Run("no resources", func(t *testing.T) {
		f := New(nil).ParseRule("example.com##+js(set-constant.js)")
		assert.Equal(t, models.CategoryScriptlet, f.Category)
	})
}

func TestParse(t *testing.T) {
	list := strings.Join([]string{
		"[Adblock Plus 2.0]",
		"! Title: EasyList",
		"! Title: Ignored",
		"! Homepage: https://easylist.to/",
		"! Expires: 4 days (update frequency)",
		"# comment",
		"",
		"||ads.example.com^",
		"@@||example.com/allowed.js^",
		"example.com##.a, \\",
		"    .b",
		"##.banner",
		"example.com##^script:has-text(ads)",
		"||example.com^$removeparam=utm_source",
		"-ad-$script",
	}, "\n")

	p := New(nil)
	filters, err := p.Parse(strings.NewReader(list))
	require.NoError(t, err)
	require.Len(t, filters, 5)

	assert.Equal(t, "example.com##.a,.b", filters[2].Rule)
	assert.Equal(t, ".a,.b", filters[2].EvalString)

	meta := p.Metadata()
	assert.Equal(t, "EasyList", meta.Title)
	assert.Equal(t, "https://easylist.to/", meta.Homepage)
	assert.Equal(t, 4*24*time.Hour, meta.Expires)

	stats := p.Stats()
	assert.Equal(t, 13, stats.Total)
	assert.Equal(t, 6, stats.Comments)
	assert.Equal(t, 2, stats.Network)
	assert.Equal(t, 1, stats.Exception)
	assert.Equal(t, 2, stats.Cosmetic)
	assert.Equal(t, 2, stats.Unsupported)
	assert.Equal(t, 1, stats.SkipReasons[SkipHTMLFilter])
	assert.Equal(t, 1, stats.SkipReasons[SkipUnsupportedOpt])
}

func TestParse_ContinuationWithoutIndent(t *testing.T) {
	list := "example.com##.a \\\n||ads.example.com^\n"

	filters, err := New(nil).Parse(strings.NewReader(list))
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, models.CategoryDomain, filters[1].Category)
}

func TestParseExpires(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{input: "4 days", expected: 4 * 24 * time.Hour},
		{input: "1 day (update frequency)", expected: 24 * time.Hour},
		{input: "12 hours", expected: 12 * time.Hour},
		{input: "soon", expected: 0},
		{input: "-1 days", expected: 0},
		{input: "3 weeks", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseExpires(tt.input))
		})
	}
}
