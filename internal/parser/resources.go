package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"sync"
)

// Resource is a named payload used by redirect and script injection rules
type Resource struct {
	MIME  string
	Value string
}

// Resources holds the resources and aliases loaded from resource files.  It
// is safe for concurrent use.
type Resources struct {
	mu      sync.RWMutex
	values  map[string]Resource
	aliases map[string]string
}

// reKeySuffix matches the extension of a resource key such as "noop.js"
var reKeySuffix = regexp.MustCompile(`\.[a-zA-Z]+$`)

// NewResources creates an empty resource set
func NewResources() *Resources {
	return &Resources{
		values:  make(map[string]Resource),
		aliases: make(map[string]string),
	}
}

// Load reads a resource file.  Each entry is a "key [mime]" line followed by
// value lines and ends at the next blank line.  Lines starting with '#' are
// ignored.
func (r *Resources) Load(rd io.Reader) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	loaded := make(map[string]Resource)

	var (
		key, mime string
		value     strings.Builder
		reading   bool
	)
	flush := func() {
		if reading {
			loaded[key] = Resource{MIME: mime, Value: value.String()}
		}
		value.Reset()
		reading = false
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "#") {
			continue
		}

		if !reading {
			if line == "" {
				continue
			}

			key, mime, _ = strings.Cut(line, " ")
			mime = strings.TrimSpace(mime)
			reading = true

			continue
		}

		if line == "" {
			flush()
			continue
		}

		value.WriteString(line)
		if strings.Contains(mime, "javascript") {
			value.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range loaded {
		r.values[k] = v
	}

	return nil
}

// LoadAliases reads "alias=name" lines
func (r *Resources) LoadAliases(rd io.Reader) error {
	scanner := bufio.NewScanner(rd)

	r.mu.Lock()
	defer r.mu.Unlock()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		alias, name, ok := strings.Cut(line, "=")
		if !ok || alias == "" {
			continue
		}

		r.aliases[alias] = name
	}

	return scanner.Err()
}

// lookup finds key, then key without its extension, then the resource key
// is an alias of
func (r *Resources) lookup(key string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.values[key]; ok {
		return res, true
	}

	if res, ok := r.values[reKeySuffix.ReplaceAllString(key, "")]; ok {
		return res, true
	}

	if name, ok := r.aliases[key]; ok {
		res, found := r.values[name]

		return res, found
	}

	return Resource{}, false
}

// Get returns the value of the named resource, or "" if there is none
func (r *Resources) Get(key string) string {
	res, _ := r.lookup(key)

	return res.Value
}

// ContentType returns the MIME type of the named resource
func (r *Resources) ContentType(key string) string {
	res, _ := r.lookup(key)

	return res.MIME
}

// Len returns the number of loaded resources
func (r *Resources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.values)
}
