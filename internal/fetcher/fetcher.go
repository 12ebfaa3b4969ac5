// Package fetcher downloads filter lists and resource files into the
// subscription storage directory.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/c2h5oh/datasize"
	"github.com/google/renameio/v2"
)

// Default values of [Config].
const (
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 3
	DefaultBackoff = time.Second
	DefaultMaxSize = 64 * datasize.MB
)

// UserAgent is sent with every request.
const UserAgent = "viper-adblock/1.0"

// ErrEmpty is returned when a download has no content.
const ErrEmpty errors.Error = "empty download"

// Config is the configuration of a [Fetcher].
type Config struct {
	// Logger is used to log retries.  If nil, slog.Default is used.
	Logger *slog.Logger

	// Timeout is the timeout of a single HTTP request.
	Timeout time.Duration

	// Retries is the number of attempts made for a single download.
	Retries int

	// Backoff is multiplied by the attempt number to get the delay before
	// the next attempt.
	Backoff time.Duration

	// MaxSize is the maximum size of a downloaded file.
	MaxSize datasize.ByteSize
}

// Fetcher downloads filter lists
type Fetcher struct {
	logger  *slog.Logger
	client  *http.Client
	retries int
	backoff time.Duration
	maxSize datasize.ByteSize
}

// New creates a new fetcher from config.  Zero fields of c get their default
// values.
func New(c *Config) *Fetcher {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	retries := c.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}

	backoff := c.Backoff
	if backoff == 0 {
		backoff = DefaultBackoff
	}

	maxSize := c.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	return &Fetcher{
		logger: logger.With(slogutil.KeyPrefix, "fetcher"),
		client: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
		backoff: backoff,
		maxSize: maxSize,
	}
}

// Download fetches rawURL into dir and returns the path of the written file.
// An existing file with the same name is replaced atomically.  file:// URLs
// are copied from the local file system.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string) (dst string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	var data []byte
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		data, err = f.Fetch(ctx, rawURL)
	case "file":
		data, err = f.readFile(u.Path)
	default:
		return "", fmt.Errorf("scheme %q: %w", u.Scheme, errors.ErrBadEnumValue)
	}
	if err != nil {
		return "", err
	}

	if len(data) == 0 {
		return "", ErrEmpty
	}

	dst = filepath.Join(dir, FileName(u))
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	err = renameio.WriteFile(dst, data, 0o644)
	if err != nil {
		return "", fmt.Errorf("writing %q: %w", dst, err)
	}

	return dst, nil
}

// FileName returns the name of the file a download of u is stored in.  Names
// of remote files are prefixed with the host.
func FileName(u *url.URL) (name string) {
	host := u.Hostname()

	name = path.Base(u.Path)
	switch {
	case name == "" || name == "." || name == "/":
		return host + ".txt"
	case host == "":
		return name
	default:
		return host + "-" + name
	}
}

// Fetch downloads content from a URL with retries
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for i := 0; i < f.retries; i++ {
		if i > 0 {
			f.logger.DebugContext(ctx, "retrying", "url", url, "attempt", i+1, slogutil.KeyError, lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * f.backoff):
			}
		}

		data, err := f.doFetch(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("failed after %d retries: %w", f.retries, lastErr)
}

func (f *Fetcher) doFetch(ctx context.Context, url string) (data []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return f.readLimited(resp.Body)
}

// readFile copies a local source, such as a list shipped with the browser
func (f *Fetcher) readFile(name string) (data []byte, err error) {
	file, err := os.Open(filepath.FromSlash(name))
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, file.Close()) }()

	return f.readLimited(file)
}

func (f *Fetcher) readLimited(r io.Reader) (data []byte, err error) {
	data, err = io.ReadAll(ioutil.LimitReader(r, f.maxSize.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return data, nil
}
