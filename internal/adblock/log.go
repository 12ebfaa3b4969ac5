package adblock

import (
	"context"
	"slices"
	"sync"
	"time"
)

// LogRetention is how long an entry stays in the filter action log.
const LogRetention = 30 * time.Minute

// LogEntry is a filter action taken on a request of a page.
type LogEntry struct {
	// Time is when the action was taken.
	Time time.Time `json:"time"`

	// Action is [OutcomeBlock] or [OutcomeRedirect].
	Action string `json:"action"`

	// URL is the request URL.
	URL string `json:"url"`

	// ElementType is the element type of the request.
	ElementType string `json:"element_type"`

	// Rule is the text of the filter that matched.
	Rule string `json:"rule"`
}

// actionLog keeps the filter actions of each page, keyed by first-party URL.
type actionLog struct {
	mu      *sync.Mutex
	entries map[string][]LogEntry
}

func newActionLog() (l *actionLog) {
	return &actionLog{
		mu:      &sync.Mutex{},
		entries: map[string][]LogEntry{},
	}
}

func (l *actionLog) add(page string, e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[page] = append(l.entries[page], e)
}

func (l *actionLog) entriesFor(page string) (entries []LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.entries[page])
}

func (l *actionLog) all() (entries map[string][]LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries = make(map[string][]LogEntry, len(l.entries))
	for page, es := range l.entries {
		entries[page] = slices.Clone(es)
	}

	return entries
}

// prune removes the entries older than before and returns the number of
// removed entries.
func (l *actionLog) prune(before time.Time) (n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for page, es := range l.entries {
		kept := slices.DeleteFunc(es, func(e LogEntry) (old bool) {
			return e.Time.Before(before)
		})
		n += len(es) - len(kept)

		if len(kept) == 0 {
			delete(l.entries, page)
		} else {
			l.entries[page] = kept
		}
	}

	return n
}

// LogEntries returns the filter actions taken on the requests of the page at
// pageURL, oldest first.
func (m *Manager) LogEntries(pageURL string) (entries []LogEntry) {
	return m.log.entriesFor(pageURL)
}

// AllLogEntries returns the filter actions of every page, keyed by page URL.
func (m *Manager) AllLogEntries() (entries map[string][]LogEntry) {
	return m.log.all()
}

// PruneLog removes the log entries older than [LogRetention].
func (m *Manager) PruneLog(ctx context.Context) {
	n := m.log.prune(m.clock.Now().Add(-LogRetention))
	if n > 0 {
		m.logger.DebugContext(ctx, "pruned filter log", "removed", n)
	}
}
