package adblock

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/LeFroid/Viper-Browser-sub001/internal/subscription"
)

// ErrInvalidURL is returned for subscription and resource sources that are
// not absolute URLs.
const ErrInvalidURL errors.Error = "invalid source url"

// SubscriptionInfo describes a subscription.
type SubscriptionInfo struct {
	LastUpdate time.Time `json:"last_update"`
	NextUpdate time.Time `json:"next_update"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	FilePath   string    `json:"file_path"`
	Index      int       `json:"index"`
	Filters    int       `json:"filters"`
	Enabled    bool      `json:"enabled"`
}

// Subscriptions returns the subscriptions in order.
func (m *Manager) Subscriptions() (infos []*SubscriptionInfo) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for i, s := range m.subs {
		infos = append(infos, &SubscriptionInfo{
			LastUpdate: s.LastUpdate,
			NextUpdate: s.NextUpdate,
			Name:       s.Name,
			Source:     s.Source,
			FilePath:   s.FilePath,
			Index:      i,
			Filters:    s.Len(),
			Enabled:    s.Enabled,
		})
	}

	return infos
}

// LoadSubscriptions reads the persisted state and extracts the filters of
// its subscriptions.  It does nothing if the engine is disabled.
func (m *Manager) LoadSubscriptions(ctx context.Context) (err error) {
	if !m.enabled.Load() {
		return nil
	}

	st, err := subscription.ReadState(m.configFile, m.clock.Now())
	if err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}

	m.total.Store(st.RequestsBlocked)

	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.subs = st.Subscriptions
	m.loaded = true
	m.rebuild(ctx)

	m.logger.InfoContext(ctx, "loaded subscriptions", "count", len(m.subs))

	return nil
}

// ReloadSubscriptions clears the cosmetic caches and the filters and extracts
// them again.
func (m *Manager) ReloadSubscriptions(ctx context.Context) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.rebuild(ctx)
}

// type check
var _ service.Refresher = (*Manager)(nil)

// Refresh implements the [service.Refresher] interface for *Manager.  It
// prunes the filter log and updates the due subscriptions.
func (m *Manager) Refresh(ctx context.Context) (err error) {
	m.PruneLog(ctx)

	return m.UpdateSubscriptions(ctx)
}

// pendingUpdate is a subscription scheduled for a download.
type pendingUpdate struct {
	sub    *subscription.Subscription
	source string
}

// UpdateSubscriptions downloads the enabled remote subscriptions whose update
// time has passed.  A failed download leaves the subscription and its
// schedule untouched.  The filters are extracted again if any subscription
// was updated.
func (m *Manager) UpdateSubscriptions(ctx context.Context) (err error) {
	if !m.enabled.Load() {
		return nil
	}

	now := m.clock.Now()

	var due []pendingUpdate
	m.subsMu.Lock()
	for _, s := range m.subs {
		if s.Enabled && s.IsRemote() && s.Due(now) {
			due = append(due, pendingUpdate{sub: s, source: s.Source})
		}
	}
	m.subsMu.Unlock()

	var errs []error
	updated := 0
	for _, u := range due {
		path, dlErr := m.downloader.Download(ctx, u.source, m.dataDir)
		m.metrics.IncrementUpdates(ctx, dlErr == nil)
		if dlErr != nil {
			m.logger.WarnContext(ctx, "updating subscription", "source", u.source, slogutil.KeyError, dlErr)
			errs = append(errs, fmt.Errorf("updating %q: %w", u.source, dlErr))

			continue
		}

		if m.applyUpdate(ctx, u.sub, path, now) {
			updated++
		}
	}

	if updated > 0 {
		m.ReloadSubscriptions(ctx)
	}

	return errors.Join(errs...)
}

// applyUpdate points s to its downloaded file and reschedules it.  It
// returns false if s was removed during the download.
func (m *Manager) applyUpdate(ctx context.Context, s *subscription.Subscription, path string, now time.Time) (ok bool) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if !slices.Contains(m.subs, s) {
		return false
	}

	if path != s.FilePath {
		err := os.Remove(s.FilePath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.WarnContext(ctx, "removing old subscription file", "path", s.FilePath, slogutil.KeyError, err)
		}

		s.FilePath = path
	}

	s.MarkUpdated(now)

	return true
}

// InstallSubscription downloads the list at rawURL and adds it as a new
// subscription.  Installing a list stored at the path of an existing
// subscription updates that subscription instead.
func (m *Manager) InstallSubscription(ctx context.Context, rawURL string) (err error) {
	if err = validateSource(rawURL); err != nil {
		return err
	}

	path, err := m.downloader.Download(ctx, rawURL, m.dataDir)
	m.metrics.IncrementUpdates(ctx, err == nil)
	if err != nil {
		return fmt.Errorf("installing subscription: %w", err)
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	idx := slices.IndexFunc(m.subs, func(s *subscription.Subscription) (found bool) {
		return s.FilePath == path
	})

	s := subscription.New(path)
	if idx >= 0 {
		s = m.subs[idx]
	} else {
		m.subs = append(m.subs, s)
	}

	m.loaded = true
	s.Source = rawURL
	s.MarkUpdated(m.clock.Now())

	m.rebuild(ctx)

	m.logger.InfoContext(ctx, "installed subscription", "source", rawURL, "path", path, "filters", s.Len())

	return nil
}

// InstallResource downloads the resource file at rawURL and merges its
// resources into the ones used by redirect and script injection rules.
func (m *Manager) InstallResource(ctx context.Context, rawURL string) (err error) {
	if err = validateSource(rawURL); err != nil {
		return err
	}

	path, err := m.downloader.Download(ctx, rawURL, m.resourceDir())
	if err != nil {
		return fmt.Errorf("installing resource: %w", err)
	}

	return m.loadResourceFile(path)
}

func validateSource(rawURL string) (err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	if !u.IsAbs() {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	return nil
}

// ToggleSubscriptionEnabled flips the enabled flag of the subscription at
// idx and reloads the filters.
func (m *Manager) ToggleSubscriptionEnabled(ctx context.Context, idx int) (err error) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if idx < 0 || idx >= len(m.subs) {
		return fmt.Errorf("index %d: %w", idx, ErrNoSubscription)
	}

	s := m.subs[idx]
	s.Enabled = !s.Enabled

	m.rebuild(ctx)

	return nil
}

// RemoveSubscription deletes the subscription at idx along with its file and
// reloads the filters.
func (m *Manager) RemoveSubscription(ctx context.Context, idx int) (err error) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if idx < 0 || idx >= len(m.subs) {
		return fmt.Errorf("index %d: %w", idx, ErrNoSubscription)
	}

	s := m.subs[idx]
	err = os.Remove(s.FilePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.WarnContext(ctx, "removing subscription file", "path", s.FilePath, slogutil.KeyError, err)
	}

	m.subs = slices.Delete(m.subs, idx, idx+1)
	m.rebuild(ctx)

	return nil
}

// CreateUserSubscription adds the locally edited subscription and creates
// its file if needed.  Filters are not extracted until the user saves rules
// into it and reloads.  If it already exists, it is returned unchanged.
func (m *Manager) CreateUserSubscription(ctx context.Context) (info *SubscriptionInfo, err error) {
	sub, err := subscription.NewUser(m.dataDir)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(sub.FilePath, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating user subscription: %w", err)
	}

	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("creating user subscription: %w", err)
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	idx := slices.IndexFunc(m.subs, func(s *subscription.Subscription) (found bool) {
		return s.FilePath == sub.FilePath
	})
	if idx < 0 {
		m.subs = append(m.subs, sub)
		m.loaded = true
		idx = len(m.subs) - 1
		m.logger.InfoContext(ctx, "created user subscription", "path", sub.FilePath)
	}

	sub = m.subs[idx]

	return &SubscriptionInfo{
		Name:     sub.Name,
		Source:   sub.Source,
		FilePath: sub.FilePath,
		Index:    idx,
		Filters:  sub.Len(),
		Enabled:  sub.Enabled,
	}, nil
}

// Save writes the subscriptions and the blocked request counter to the
// configuration file.
func (m *Manager) Save() (err error) {
	if m.configFile == "" {
		return nil
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	st := &subscription.State{
		Subscriptions:   m.subs,
		RequestsBlocked: m.total.Load(),
	}

	return subscription.WriteState(m.configFile, st)
}
