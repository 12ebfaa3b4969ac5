package adblock_test

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/LeFroid/Viper-Browser-sub001/internal/adblock"
	"github.com/LeFroid/Viper-Browser-sub001/internal/converter"
	"github.com/LeFroid/Viper-Browser-sub001/internal/fetcher"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
	"github.com/LeFroid/Viper-Browser-sub001/internal/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 5 * time.Second
	testListURL = "https://lists.example/easylist.txt"
)

// testDownloader serves files from memory.
type testDownloader struct {
	mu    *sync.Mutex
	files map[string]string
	calls int
}

// type check
var _ adblock.Downloader = (*testDownloader)(nil)

// Download implements the [adblock.Downloader] interface for
// *testDownloader.
func (d *testDownloader) Download(_ context.Context, rawURL, dir string) (dst string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++

	content, ok := d.files[rawURL]
	if !ok {
		return "", errors.Error("not found")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	dst = filepath.Join(dir, fetcher.FileName(u))

	return dst, os.WriteFile(dst, []byte(content), 0o644)
}

func (d *testDownloader) set(rawURL string, rules ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rules == nil {
		delete(d.files, rawURL)

		return
	}

	d.files[rawURL] = strings.Join(rules, "\n")
}

// testClock is a settable clock.
type testClock struct {
	mu  *sync.Mutex
	now time.Time
}

// Now implements the [timeutil.Clock] interface for *testClock.
func (c *testClock) Now() (now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// testEnv is a manager with a single subscription installed from
// testListURL.
type testEnv struct {
	manager    *adblock.Manager
	downloader *testDownloader
	clock      *testClock
	dir        string
}

func newTestEnv(t *testing.T, rules ...string) (env *testEnv) {
	t.Helper()

	env = &testEnv{
		downloader: &testDownloader{mu: &sync.Mutex{}, files: map[string]string{}},
		clock: &testClock{
			mu:  &sync.Mutex{},
			now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		dir: t.TempDir(),
	}

	m, err := adblock.New(testutil.ContextWithTimeout(t, testTimeout), &adblock.Config{
		Logger:     slogutil.NewDiscardLogger(),
		Downloader: env.downloader,
		Clock:      env.clock,
		ConfigFile: filepath.Join(env.dir, "adblock.json"),
		DataDir:    env.dir,
		Enabled:    true,
	})
	require.NoError(t, err)

	env.manager = m

	if rules != nil {
		env.downloader.set(testListURL, rules...)
		require.NoError(t, m.InstallSubscription(testutil.ContextWithTimeout(t, testTimeout), testListURL))
	}

	return env
}

func TestManager_ShouldBlockRequest(t *testing.T) {
	env := newTestEnv(t,
		"||ads.example.com^",
		"||tracker.net^$important",
		"@@||tracker.net^",
		"/banner/",
		"@@||cdn.example.org/banner/",
		"||redirect.net^$script,redirect=noop.js",
	)

	tests := []struct {
		want       models.Decision
		name       string
		url        string
		firstParty string
		rt         models.ResourceType
	}{{
		want:       models.Decision{Block: true},
		name:       "domain_rule",
		url:        "http://ads.example.com/banner.png",
		firstParty: "http://example.com",
		rt:         models.ResourceImage,
	}, {
		want:       models.Decision{},
		name:       "other_subdomain",
		url:        "http://notads.example.com/x",
		firstParty: "http://example.com",
		rt:         models.ResourceImage,
	}, {
		want:       models.Decision{Block: true},
		name:       "important_overrides_allow",
		url:        "https://tracker.net/t.gif",
		firstParty: "https://news.org/",
		rt:         models.ResourceImage,
	}, {
		want:       models.Decision{},
		name:       "allow_overrides_block",
		url:        "https://cdn.example.org/banner/top.png",
		firstParty: "https://news.org/",
		rt:         models.ResourceImage,
	}, {
		want:       models.Decision{Block: true},
		name:       "pattern",
		url:        "https://other.org/banner/top.png",
		firstParty: "https://news.org/",
		rt:         models.ResourceImage,
	}, {
		want:       models.Decision{RedirectTo: "blocked:noop.js"},
		name:       "redirect",
		url:        "https://redirect.net/lib.js",
		firstParty: "https://news.org/",
		rt:         models.ResourceScript,
	}, {
		want:       models.Decision{},
		name:       "internal_scheme",
		url:        "viper://ads.example.com/banner/",
		firstParty: "https://news.org/",
		rt:         models.ResourceImage,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testutil.ContextWithTimeout(t, testTimeout)
			got := env.manager.ShouldBlockRequest(ctx, tc.url, tc.firstParty, tc.rt)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestManager_counters(t *testing.T) {
	env := newTestEnv(t, "||ads.example.com^", "||important.net^$important")
	m := env.manager
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const page = "https://news.org/story"

	m.LoadStarted(page)
	m.ShouldBlockRequest(ctx, "https://ads.example.com/a.js", page, models.ResourceScript)
	m.ShouldBlockRequest(ctx, "https://important.net/b.js", page, models.ResourceScript)
	m.ShouldBlockRequest(ctx, "https://fine.net/c.js", page, models.ResourceScript)

	assert.Equal(t, uint64(2), m.NumberAdsBlocked(page))
	assert.Equal(t, uint64(2), m.RequestsBlockedCount())

	m.LoadStarted(page)
	assert.Zero(t, m.NumberAdsBlocked(page))
	assert.Equal(t, uint64(2), m.RequestsBlockedCount())
}

func TestManager_log(t *testing.T) {
	env := newTestEnv(t,
		"||ads.example.com^",
		"||media.net^$media,redirect=noopmp3",
		"@@||ads.example.com/ok^",
	)
	m := env.manager
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const (
		page  = "https://news.org/story"
		other = "https://shop.org/"
	)

	start := env.clock.Now()
	m.ShouldBlockRequest(ctx, "https://ads.example.com/a.js", page, models.ResourceScript)
	m.ShouldBlockRequest(ctx, "https://ads.example.com/ok/b.js", page, models.ResourceScript)
	m.ShouldBlockRequest(ctx, "https://fine.net/c.js", page, models.ResourceScript)

	env.clock.add(20 * time.Minute)
	m.ShouldBlockRequest(ctx, "https://media.net/a.mp3", other, models.ResourceMedia)

	assert.Equal(t, []adblock.LogEntry{{
		Time:        start,
		Action:      adblock.OutcomeBlock,
		URL:         "https://ads.example.com/a.js",
		ElementType: "script|third-party",
		Rule:        "||ads.example.com^",
	}}, m.LogEntries(page))

	otherEntries := m.LogEntries(other)
	require.Len(t, otherEntries, 1)
	assert.Equal(t, adblock.OutcomeRedirect, otherEntries[0].Action)
	assert.Equal(t, "||media.net^$media,redirect=noopmp3", otherEntries[0].Rule)

	assert.Len(t, m.AllLogEntries(), 2)
	assert.Empty(t, m.LogEntries("https://unknown.org/"))

	// Refreshing prunes the entries older than the retention time.
	env.clock.add(15 * time.Minute)
	require.NoError(t, m.Refresh(ctx))

	assert.Empty(t, m.LogEntries(page))
	assert.Len(t, m.LogEntries(other), 1)
	assert.Len(t, m.AllLogEntries(), 1)
}

func TestManager_Stylesheet(t *testing.T) {
	env := newTestEnv(t, "##.generic-ad", "@@||news.org^$generichide")
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	assert.Empty(t, env.manager.Stylesheet(ctx, "https://news.org/story"))
	assert.Empty(t, env.manager.Stylesheet(ctx, "https://www.news.org/"))
	assert.Equal(
		t,
		".generic-ad{ display: none !important; } ",
		env.manager.Stylesheet(ctx, "https://other.org/"),
	)
}

func TestManager_DomainStylesheet(t *testing.T) {
	env := newTestEnv(t,
		"##.popup-ad",
		"example.com#@#.popup-ad",
		"example.com,other.com##.sidebar-ad",
		"example.com##.x:style(color: red)",
	)
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := env.manager

	css := m.DomainStylesheet(ctx, "https://example.com/page")
	assert.NotContains(t, css, ".popup-ad")
	assert.Contains(t, css, ".sidebar-ad{ display: none !important; } ")
	assert.True(t, strings.HasSuffix(css, ".x { color: red } "))

	assert.Equal(t, css, m.DomainStylesheet(ctx, "https://www.example.com/other"))

	css = m.DomainStylesheet(ctx, "https://other.com/")
	assert.Contains(t, css, ".popup-ad")
	assert.Contains(t, css, ".sidebar-ad")
	assert.NotContains(t, css, "color: red")
}

func TestManager_DomainJavaScript(t *testing.T) {
	env := newTestEnv(t,
		"example.com##.x:has-text(Sponsored)",
		"||example.com^$inline-script",
		"||example.com^$csp=worker-src 'none'",
		"@@||example.com^$csp=worker-src 'none'",
		"||example.com^$csp=frame-src 'none'",
	)
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := env.manager

	script := m.DomainJavaScript(ctx, "https://example.com/")
	assert.Contains(t, script, "hideNodes(hasText, '.x', 'Sponsored'); ")
	assert.Contains(t, script, converter.InlineScriptDirective+"; frame-src 'none'")
	assert.NotContains(t, script, "worker-src")

	assert.Equal(t, script, m.DomainJavaScript(ctx, "https://example.com/other"))
	assert.Empty(t, m.DomainJavaScript(ctx, "https://unrelated.org/"))
}

func TestManager_BadFilter(t *testing.T) {
	env := newTestEnv(t, "/ads/*", "/ads/*$badfilter")
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	stats := env.manager.Stats()
	assert.Zero(t, stats.Buckets["block"])
	assert.Zero(t, stats.Buckets["block_by_pattern"])

	d := env.manager.ShouldBlockRequest(ctx, "https://cdn.net/ads/x.png", "https://news.org/", models.ResourceImage)
	assert.Equal(t, models.Decision{}, d)
}

func TestManager_InstallSubscription(t *testing.T) {
	env := newTestEnv(t, "||one.net^")
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := env.manager

	require.Len(t, m.Subscriptions(), 1)
	assert.Equal(t, 1, m.Stats().Buckets["block"])

	const secondURL = "https://lists.example/second.txt"
	env.downloader.set(secondURL, "! Title: Second list", "||two.net^", "||three.net^")

	require.NoError(t, m.InstallSubscription(ctx, secondURL))

	subs := m.Subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, "Second list", subs[1].Name)
	assert.Equal(t, secondURL, subs[1].Source)
	assert.Equal(t, 2, subs[1].Filters)
	assert.Equal(t, env.clock.Now().Add(subscription.UpdateInterval), subs[1].NextUpdate)
	assert.Equal(t, 3, m.Stats().Buckets["block"])

	err := m.InstallSubscription(ctx, "https://lists.example/missing.txt")
	require.Error(t, err)
	assert.Len(t, m.Subscriptions(), 2)

	err = m.InstallSubscription(ctx, "not a url")
	assert.ErrorIs(t, err, adblock.ErrInvalidURL)

	// A list with the same file name from another host is a separate
	// subscription.
	const mirrorURL = "https://mirror.example/easylist.txt"
	env.downloader.set(mirrorURL, "||four.net^")

	require.NoError(t, m.InstallSubscription(ctx, mirrorURL))

	subs = m.Subscriptions()
	require.Len(t, subs, 3)
	assert.Equal(t, testListURL, subs[0].Source)
	assert.Equal(t, mirrorURL, subs[2].Source)
	assert.NotEqual(t, subs[0].FilePath, subs[2].FilePath)
	assert.Equal(t, 4, m.Stats().Buckets["block"])
}

func TestManager_ToggleAndRemove(t *testing.T) {
	env := newTestEnv(t, "||ads.net^")
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := env.manager

	blocked := func() (ok bool) {
		return m.ShouldBlockRequest(ctx, "https://ads.net/a.js", "https://news.org/", models.ResourceScript).Block
	}
	require.True(t, blocked())

	require.NoError(t, m.ToggleSubscriptionEnabled(ctx, 0))
	assert.False(t, blocked())
	assert.False(t, m.Subscriptions()[0].Enabled)

	require.NoError(t, m.ToggleSubscriptionEnabled(ctx, 0))
	assert.True(t, blocked())

	assert.ErrorIs(t, m.ToggleSubscriptionEnabled(ctx, 1), adblock.ErrNoSubscription)
	assert.ErrorIs(t, m.RemoveSubscription(ctx, -1), adblock.ErrNoSubscription)

	file := m.Subscriptions()[0].FilePath
	require.NoError(t, m.RemoveSubscription(ctx, 0))
	assert.Empty(t, m.Subscriptions())
	assert.False(t, blocked())
	assert.NoFileExists(t, file)
}

func TestManager_UpdateSubscriptions(t *testing.T) {
	env := newTestEnv(t, "||old.net^")
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := env.manager

	installed := m.Subscriptions()[0]

	// Not due yet.
	require.NoError(t, m.UpdateSubscriptions(ctx))
	assert.Equal(t, 1, env.downloader.calls)

	env.clock.add(8 * 24 * time.Hour)
	env.downloader.set(testListURL, "||new.net^")

	require.NoError(t, m.Refresh(ctx))

	updated := m.Subscriptions()[0]
	assert.Equal(t, env.clock.Now(), updated.LastUpdate)
	assert.Equal(t, env.clock.Now().Add(subscription.UpdateInterval), updated.NextUpdate)
	assert.True(t, updated.LastUpdate.After(installed.LastUpdate))

	d := m.ShouldBlockRequest(ctx, "https://new.net/x.js", "https://news.org/", models.ResourceScript)
	assert.True(t, d.Block)

	env.clock.add(8 * 24 * time.Hour)
	env.downloader.set(testListURL)

	require.Error(t, m.UpdateSubscriptions(ctx))

	failed := m.Subscriptions()[0]
	assert.Equal(t, updated.LastUpdate, failed.LastUpdate)
	assert.Equal(t, updated.NextUpdate, failed.NextUpdate)

	d = m.ShouldBlockRequest(ctx, "https://new.net/x.js", "https://news.org/", models.ResourceScript)
	assert.True(t, d.Block)
}

func TestManager_SaveAndLoad(t *testing.T) {
	env := newTestEnv(t, "||ads.net^")
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := env.manager

	m.ShouldBlockRequest(ctx, "https://ads.net/a.js", "https://news.org/", models.ResourceScript)
	require.NoError(t, m.Save())

	loaded, err := adblock.New(ctx, &adblock.Config{
		Logger:     slogutil.NewDiscardLogger(),
		Downloader: env.downloader,
		Clock:      env.clock,
		ConfigFile: filepath.Join(env.dir, "adblock.json"),
		DataDir:    env.dir,
		Enabled:    true,
	})
	require.NoError(t, err)
	require.NoError(t, loaded.LoadSubscriptions(ctx))

	assert.Equal(t, uint64(1), loaded.RequestsBlockedCount())

	want, got := m.Subscriptions(), loaded.Subscriptions()
	require.Len(t, got, 1)
	assert.Equal(t, want[0].FilePath, got[0].FilePath)
	assert.Equal(t, want[0].Source, got[0].Source)
	assert.Equal(t, want[0].NextUpdate.Unix(), got[0].NextUpdate.Unix())

	d := loaded.ShouldBlockRequest(ctx, "https://ads.net/a.js", "https://news.org/", models.ResourceScript)
	assert.True(t, d.Block)
}

func TestManager_SetEnabled(t *testing.T) {
	env := newTestEnv(t, "||ads.net^", "##.ad")
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := env.manager

	require.NoError(t, m.SetEnabled(ctx, false))
	assert.False(t, m.Enabled())
	assert.Zero(t, m.Stats().Buckets["block"])
	assert.Empty(t, m.Stylesheet(ctx, "https://news.org/"))

	d := m.ShouldBlockRequest(ctx, "https://ads.net/a.js", "https://news.org/", models.ResourceScript)
	assert.False(t, d.Block)

	require.NoError(t, m.SetEnabled(ctx, true))
	assert.Equal(t, 1, m.Stats().Buckets["block"])
	assert.NotEmpty(t, m.Stylesheet(ctx, "https://news.org/"))
}

func TestManager_CreateUserSubscription(t *testing.T) {
	env := newTestEnv(t, "||ads.net^")
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := env.manager

	info, err := m.CreateUserSubscription(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, info.Index)
	assert.Equal(t, subscription.UserFileName, filepath.Base(info.FilePath))
	assert.True(t, strings.HasPrefix(info.Source, "file://"))
	assert.FileExists(t, info.FilePath)

	again, err := m.CreateUserSubscription(ctx)
	require.NoError(t, err)
	assert.Equal(t, info.Index, again.Index)
	assert.Len(t, m.Subscriptions(), 2)

	require.NoError(t, os.WriteFile(info.FilePath, []byte("||custom.net^\n"), 0o644))
	m.ReloadSubscriptions(ctx)

	d := m.ShouldBlockRequest(ctx, "https://custom.net/a.js", "https://news.org/", models.ResourceScript)
	assert.True(t, d.Block)
}

func TestManager_InstallResource(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const resURL = "https://lists.example/resources.txt"
	env.downloader.set(resURL, "noop.js application/javascript", "(function() {})();", "")

	require.NoError(t, env.manager.InstallResource(ctx, resURL))
	assert.Equal(t, "(function() {})();\n", env.manager.Resource("noop.js"))
	assert.Equal(t, "application/javascript", env.manager.ResourceContentType("noop.js"))
	assert.FileExists(t, filepath.Join(env.dir, adblock.ResourceDir, "lists.example-resources.txt"))
}

func TestManager_disabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	require.NoError(t, env.manager.SetEnabled(ctx, false))
	require.NoError(t, env.manager.LoadSubscriptions(ctx))
	require.NoError(t, env.manager.UpdateSubscriptions(ctx))

	assert.Empty(t, env.manager.Subscriptions())
	assert.Empty(t, env.manager.DomainStylesheet(ctx, "https://example.com/"))
	assert.Empty(t, env.manager.DomainJavaScript(ctx, "https://example.com/"))
}
