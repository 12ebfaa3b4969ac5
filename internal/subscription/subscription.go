// Package subscription contains filter list subscriptions and their
// persisted state.
package subscription

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
	"github.com/LeFroid/Viper-Browser-sub001/internal/parser"
)

// UpdateInterval is the time between two downloads of a remote subscription.
const UpdateInterval = 7 * 24 * time.Hour

// UserFileName is the file of the locally edited subscription.
const UserFileName = "custom.txt"

// Subscription is a named collection of filters read from one file.
type Subscription struct {
	// LastUpdate is the time of the last successful download.
	LastUpdate time.Time

	// NextUpdate is the time after which the subscription is downloaded
	// again.  A zero value disables updates.
	NextUpdate time.Time

	// Name is read from the "! Title:" header, or is the file name.
	Name string

	// FilePath is the path of the backing file.  It identifies the
	// subscription in the persisted configuration.
	FilePath string

	// Source is the URL the subscription was installed from.
	Source string

	// Expires is the update period advertised by the list itself.  It is
	// informational only.
	Expires time.Duration

	// Enabled is false for subscriptions that contribute no filters.
	Enabled bool

	filters []*models.Filter
	stats   parser.Stats
}

// New returns an enabled subscription backed by filePath.
func New(filePath string) (s *Subscription) {
	return &Subscription{
		FilePath: filePath,
		Enabled:  true,
	}
}

// NewUser returns the locally edited subscription stored in dir.
func NewUser(dir string) (s *Subscription, err error) {
	path, err := filepath.Abs(filepath.Join(dir, UserFileName))
	if err != nil {
		return nil, fmt.Errorf("resolving user subscription path: %w", err)
	}

	s = New(path)
	s.Source = (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()

	return s, nil
}

// Load reads and parses the backing file.  Disabled subscriptions are not
// read.  resources may be nil.
func (s *Subscription) Load(resources parser.ResourceFunc) (err error) {
	if !s.Enabled || s.FilePath == "" {
		return nil
	}

	f, err := os.Open(s.FilePath)
	if err != nil {
		s.filters = nil

		return fmt.Errorf("opening subscription: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	p := parser.New(resources)
	filters, err := p.Parse(f)
	if err != nil {
		s.filters = nil

		return fmt.Errorf("parsing %q: %w", s.FilePath, err)
	}

	s.filters = filters
	s.stats = p.Stats()

	meta := p.Metadata()
	if s.Name == "" {
		s.Name = meta.Title
	}
	if s.Name == "" {
		s.Name = filepath.Base(s.FilePath)
	}
	s.Expires = meta.Expires
	if s.NextUpdate.IsZero() && s.Expires > 0 {
		s.NextUpdate = s.LastUpdate.Add(s.Expires)
	}

	return nil
}

// Filters returns the parsed filters, or nil if the subscription is
// disabled.
func (s *Subscription) Filters() (filters []*models.Filter) {
	if !s.Enabled {
		return nil
	}

	return s.filters
}

// Len returns the number of filters the subscription contributes.
func (s *Subscription) Len() (n int) {
	return len(s.Filters())
}

// Stats returns the statistics of the last Load.
func (s *Subscription) Stats() (stats parser.Stats) {
	return s.stats
}

// IsRemote returns true if the subscription is downloaded from a remote
// source.
func (s *Subscription) IsRemote() (ok bool) {
	u, err := url.Parse(s.Source)
	if err != nil {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	default:
		return false
	}
}

// Due returns true if the subscription is scheduled for an update at now.
func (s *Subscription) Due(now time.Time) (ok bool) {
	return !s.NextUpdate.IsZero() && s.NextUpdate.Before(now)
}

// MarkUpdated records a successful download at now.
func (s *Subscription) MarkUpdated(now time.Time) {
	s.LastUpdate = now
	s.NextUpdate = now.Add(UpdateInterval)
}
