// Package adblock contains the filter engine used by the browser: request
// decisions, cosmetic artifacts and the subscription lifecycle.
package adblock

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/LeFroid/Viper-Browser-sub001/internal/filterstore"
	"github.com/LeFroid/Viper-Browser-sub001/internal/lrucache"
	"github.com/LeFroid/Viper-Browser-sub001/internal/parser"
	"github.com/LeFroid/Viper-Browser-sub001/internal/subscription"
)

const (
	// ErrNoSubscription is returned for subscription indexes that are out of
	// range.
	ErrNoSubscription errors.Error = "no such subscription"

	// ErrDisabled is returned by operations that require the engine to be
	// enabled.
	ErrDisabled errors.Error = "filtering is disabled"
)

// ResourceDir is the directory within the data directory holding resource
// files.
const ResourceDir = "resources"

// AliasFile is the file in [ResourceDir] mapping resource aliases to names.
const AliasFile = "aliases.txt"

// Downloader fetches a remote file into a directory.
type Downloader interface {
	// Download stores the content of rawURL in dir and returns the path of
	// the written file.  On error, existing files are left untouched.
	Download(ctx context.Context, rawURL, dir string) (path string, err error)
}

// Config is the configuration of a [Manager].
type Config struct {
	// Logger is used to log decisions and subscription errors.  If nil,
	// slog.Default is used.
	Logger *slog.Logger

	// Downloader fetches subscriptions and resources.  It must not be nil.
	Downloader Downloader

	// Metrics is used to collect statistics.  If nil, [EmptyMetrics] is
	// used.
	Metrics Metrics

	// Clock returns the current time.  If nil, the system clock is used.
	Clock timeutil.Clock

	// ConfigFile is the path of the persisted subscription state.
	ConfigFile string

	// DataDir is the directory subscriptions are stored in.
	DataDir string

	// CacheSize is the number of domains kept in each cosmetic cache.
	CacheSize int

	// Enabled is the initial state of the engine.
	Enabled bool
}

// Manager is the filter engine.  It is safe for concurrent use.
type Manager struct {
	logger     *slog.Logger
	downloader Downloader
	metrics    Metrics
	clock      timeutil.Clock
	resources  *parser.Resources

	// mu guards store and the consistency of the caches with it.
	mu          *sync.RWMutex
	store       *filterstore.Store
	styleCache  *lrucache.Cache[string, string]
	scriptCache *lrucache.Cache[string, string]

	// subsMu guards subs and the fields of each subscription.
	subsMu *sync.Mutex
	subs   []*subscription.Subscription
	loaded bool

	pagesMu *sync.Mutex
	pages   map[string]uint64

	log *actionLog

	configFile string
	dataDir    string

	total   atomic.Uint64
	enabled atomic.Bool
}

// New returns a new manager.  Resources found in the resource directory are
// loaded, subscriptions are not; see [Manager.LoadSubscriptions].
func New(ctx context.Context, c *Config) (m *Manager, err error) {
	if c.Downloader == nil {
		return nil, fmt.Errorf("downloader: %w", errors.ErrNoValue)
	}

	logger := cmp.Or(c.Logger, slog.Default())
	cacheConf := &lrucache.Config{Size: c.CacheSize}

	m = &Manager{
		logger:      logger.With(slogutil.KeyPrefix, "adblock"),
		downloader:  c.Downloader,
		metrics:     cmp.Or[Metrics](c.Metrics, EmptyMetrics{}),
		clock:       cmp.Or[timeutil.Clock](c.Clock, timeutil.SystemClock{}),
		resources:   parser.NewResources(),
		mu:          &sync.RWMutex{},
		store:       filterstore.Empty(),
		styleCache:  lrucache.New[string, string](cacheConf),
		scriptCache: lrucache.New[string, string](cacheConf),
		subsMu:      &sync.Mutex{},
		pagesMu:     &sync.Mutex{},
		pages:       map[string]uint64{},
		log:         newActionLog(),
		configFile:  c.ConfigFile,
		dataDir:     c.DataDir,
	}
	m.enabled.Store(c.Enabled)

	if m.dataDir != "" {
		err = os.MkdirAll(m.resourceDir(), 0o755)
		if err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}

		m.loadResources(ctx)
	}

	return m, nil
}

func (m *Manager) resourceDir() (dir string) {
	return filepath.Join(m.dataDir, ResourceDir)
}

// Enabled returns true if the engine filters requests.
func (m *Manager) Enabled() (ok bool) {
	return m.enabled.Load()
}

// SetEnabled switches filtering on or off.  Filters are dropped when the
// engine is disabled and extracted again when it is enabled.
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) (err error) {
	if m.enabled.Swap(enabled) == enabled {
		return nil
	}

	m.logger.InfoContext(ctx, "setting filtering", "enabled", enabled)

	if !enabled {
		m.publish(ctx, filterstore.Empty())

		return nil
	}

	m.subsMu.Lock()
	loaded := m.loaded
	m.subsMu.Unlock()

	if !loaded {
		return m.LoadSubscriptions(ctx)
	}

	m.ReloadSubscriptions(ctx)

	return nil
}

// currentStore returns the published store.  m.mu must be held.
func (m *Manager) currentStore() (st *filterstore.Store) {
	return m.store
}

// rebuild loads the subscriptions and publishes a new classification of
// their filters.  m.subsMu must be held.
func (m *Manager) rebuild(ctx context.Context) {
	start := time.Now()

	for _, s := range m.subs {
		err := s.Load(m.resources.Get)
		if err != nil {
			m.logger.WarnContext(ctx, "skipping subscription", "path", s.FilePath, slogutil.KeyError, err)
		}
	}

	st := filterstore.Build(m.subs)
	m.metrics.ObserveBuild(ctx, time.Since(start))

	m.publish(ctx, st)
}

// publish replaces the store and purges the cosmetic caches
func (m *Manager) publish(ctx context.Context, st *filterstore.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store = st
	m.styleCache.Clear()
	m.scriptCache.Clear()

	for _, b := range filterstore.Buckets {
		m.metrics.SetBucketSize(ctx, b, st.Len(b))
	}

	m.logger.DebugContext(
		ctx,
		"published filters",
		"block", st.Len(filterstore.BucketBlock),
		"allow", st.Len(filterstore.BucketAllow),
		"domain_style", st.Len(filterstore.BucketDomainStyle),
	)
}

// Stats is a summary of the engine state.
type Stats struct {
	// Buckets maps bucket names to the number of filters in them.
	Buckets map[string]int `json:"buckets"`

	RequestsBlocked uint64 `json:"requests_blocked"`
	Subscriptions   int    `json:"subscriptions"`
	Resources       int    `json:"resources"`
	Enabled         bool   `json:"enabled"`
}

// Stats returns a summary of the engine state.
func (m *Manager) Stats() (s *Stats) {
	s = &Stats{
		Buckets:         map[string]int{},
		RequestsBlocked: m.RequestsBlockedCount(),
		Resources:       m.resources.Len(),
		Enabled:         m.Enabled(),
	}

	m.mu.RLock()
	st := m.currentStore()
	m.mu.RUnlock()

	for _, b := range filterstore.Buckets {
		s.Buckets[b.String()] = st.Len(b)
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	s.Subscriptions = len(m.subs)

	return s
}
