package adblock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// loadResources reads every resource file of the resource directory and the
// alias file
func (m *Manager) loadResources(ctx context.Context) {
	dir := m.resourceDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.WarnContext(ctx, "reading resources", slogutil.KeyError, err)

		return
	}

	for _, e := range entries {
		if e.IsDir() || e.Name() == AliasFile {
			continue
		}

		path := filepath.Join(dir, e.Name())
		if err = m.loadResourceFile(path); err != nil {
			m.logger.WarnContext(ctx, "loading resource file", "path", path, slogutil.KeyError, err)
		}
	}

	if err = m.loadAliases(filepath.Join(dir, AliasFile)); err != nil {
		m.logger.WarnContext(ctx, "loading resource aliases", slogutil.KeyError, err)
	}

	m.logger.DebugContext(ctx, "loaded resources", "count", m.resources.Len())
}

func (m *Manager) loadResourceFile(path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening resource file: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	return m.resources.Load(f)
}

func (m *Manager) loadAliases(path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("opening alias file: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	return m.resources.LoadAliases(f)
}

// Resource returns the body of the named resource, or an empty string if
// there is none.
func (m *Manager) Resource(name string) (body string) {
	return m.resources.Get(name)
}

// ResourceContentType returns the MIME type of the named resource.
func (m *Manager) ResourceContentType(name string) (mime string) {
	return m.resources.ContentType(name)
}
