// Package filterstore classifies parsed filters into the lists consulted by
// request matching and cosmetic filtering.
package filterstore

import (
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/container"
	"github.com/LeFroid/Viper-Browser-sub001/internal/converter"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
)

// Bucket identifies one filter list of a [Store].
type Bucket uint8

// Buckets of a store.  A network filter belongs to at most one of
// BucketImportantBlock, BucketBlock, BucketBlockByPattern and BucketAllow.
const (
	BucketImportantBlock Bucket = iota
	BucketBlock
	BucketBlockByPattern
	BucketAllow
	BucketDomainStyle
	BucketDomainJS
	BucketCustomStyle
	BucketGenericHide
	BucketCSP

	numBuckets
)

// Buckets lists every bucket in order.
var Buckets = [...]Bucket{
	BucketImportantBlock,
	BucketBlock,
	BucketBlockByPattern,
	BucketAllow,
	BucketDomainStyle,
	BucketDomainJS,
	BucketCustomStyle,
	BucketGenericHide,
	BucketCSP,
}

var bucketNames = [numBuckets]string{
	BucketImportantBlock: "important_block",
	BucketBlock:          "block",
	BucketBlockByPattern: "block_by_pattern",
	BucketAllow:          "allow",
	BucketDomainStyle:    "domain_style",
	BucketDomainJS:       "domain_js",
	BucketCustomStyle:    "custom_style",
	BucketGenericHide:    "generic_hide",
	BucketCSP:            "csp",
}

// String implements the [fmt.Stringer] interface for Bucket.
func (b Bucket) String() (s string) {
	if b >= numBuckets {
		return "unknown"
	}

	return bucketNames[b]
}

// FilterSource provides the filters of one subscription.
type FilterSource interface {
	// Filters returns the filters to classify.  Disabled sources return
	// nil.
	Filters() (filters []*models.Filter)
}

// Store is an immutable classification of filters, except for the order of
// filters within a bucket, which matching changes.  It is safe for
// concurrent use.
type Store struct {
	// mu guards the order of the buckets.
	mu sync.RWMutex

	// filters is the arena the buckets point into.  Filters are copies of
	// the parsed ones, so the exception merge never leaks into the
	// subscriptions.
	filters []models.Filter
	buckets [numBuckets][]int32

	// scans counts the full scans of each bucket.
	scans [numBuckets]atomic.Uint64

	stylesheet string
}

// Empty returns a store without filters.
func Empty() (s *Store) {
	return &Store{}
}

// builder holds the temporary state of [Build].
type builder struct {
	store *Store

	// hide and hideExceptions map a selector to the hiding filters using
	// it.  selectors keeps the order in which selectors were first seen.
	hide           map[string][]int32
	hideExceptions map[string][]int32
	selectors      []string

	// badFilters and badHideFilters hold the rules of cancelled filters.
	badFilters     *container.MapSet[string]
	badHideFilters *container.MapSet[string]

	// seen holds the rules already added to the block buckets.
	seen [numBuckets]*container.MapSet[string]
}

// Build classifies the filters of all sources into a new store.
func Build[S FilterSource](sources []S) (s *Store) {
	b := &builder{
		store:          &Store{},
		hide:           map[string][]int32{},
		hideExceptions: map[string][]int32{},
		badFilters:     container.NewMapSet[string](),
		badHideFilters: container.NewMapSet[string](),
	}
	b.seen[BucketBlock] = container.NewMapSet[string]()
	b.seen[BucketBlockByPattern] = container.NewMapSet[string]()

	for _, src := range sources {
		for _, f := range src.Filters() {
			if f != nil {
				b.add(f)
			}
		}
	}

	b.removeCancelled()
	b.buildStylesheets()

	return b.store
}

// add copies f into the arena and routes it
func (b *builder) add(src *models.Filter) {
	switch src.Category {
	case models.CategoryNone, models.CategoryNotImplemented, models.CategoryScriptlet:
		return
	}

	st := b.store
	st.filters = append(st.filters, *src)
	idx := int32(len(st.filters) - 1)
	f := &st.filters[idx]

	switch {
	case f.Category == models.CategoryStylesheet:
		if f.Exception {
			b.hideExceptions[f.EvalString] = append(b.hideExceptions[f.EvalString], idx)
		} else {
			if _, ok := b.hide[f.EvalString]; !ok {
				b.selectors = append(b.selectors, f.EvalString)
			}
			b.hide[f.EvalString] = append(b.hide[f.EvalString], idx)
		}
	case f.Category == models.CategoryStylesheetJS:
		b.push(BucketDomainJS, idx)
	case f.Category == models.CategoryStylesheetCustom:
		b.push(BucketCustomStyle, idx)
	case f.HasBlockedType(models.ElementBadFilter):
		b.badFilters.Add(f.Rule)
	case f.HasBlockedType(models.ElementCSP):
		// Popup filters with a policy are unreliable and never applied.
		if !f.HasBlockedType(models.ElementPopUp) {
			b.push(BucketCSP, idx)
		}
	case f.Exception:
		if f.HasBlockedType(models.ElementGenericHide) {
			b.push(BucketGenericHide, idx)
		} else {
			b.push(BucketAllow, idx)
		}
	case f.Important:
		// An important generichide rule cancels the matching exception
		// instead of blocking anything.
		if f.HasBlockedType(models.ElementGenericHide) {
			b.badHideFilters.Add(f.Rule)
		} else {
			b.push(BucketImportantBlock, idx)
		}
	case f.Category == models.CategoryStringContains:
		b.pushUnique(BucketBlockByPattern, idx)
	default:
		b.pushUnique(BucketBlock, idx)
	}
}

func (b *builder) push(bucket Bucket, idx int32) {
	b.store.buckets[bucket] = append(b.store.buckets[bucket], idx)
}

// pushUnique skips filters whose rule is already in bucket
func (b *builder) pushUnique(bucket Bucket, idx int32) {
	rule := b.store.filters[idx].Rule
	if b.seen[bucket].Has(rule) {
		return
	}

	b.seen[bucket].Add(rule)
	b.push(bucket, idx)
}

// removeCancelled drops the filters cancelled by $badfilter rules and by
// important generichide rules
func (b *builder) removeCancelled() {
	for _, bucket := range []Bucket{BucketAllow, BucketBlock, BucketBlockByPattern, BucketCSP} {
		b.filter(bucket, b.badFilters)
	}

	b.filter(BucketGenericHide, b.badHideFilters)
}

func (b *builder) filter(bucket Bucket, cancelled *container.MapSet[string]) {
	if cancelled.Len() == 0 {
		return
	}

	kept := b.store.buckets[bucket][:0]
	for _, idx := range b.store.buckets[bucket] {
		if !cancelled.Has(b.store.filters[idx].Rule) {
			kept = append(kept, idx)
		}
	}

	b.store.buckets[bucket] = kept
}

// buildStylesheets applies hiding exceptions and splits hiding filters into
// the domain stylesheet bucket and the global stylesheet
func (b *builder) buildStylesheets() {
	st := b.store

	// The domains an exception applies on are added to the domains the
	// hiding filter is lifted on.
	for selector, exceptions := range b.hideExceptions {
		for _, idx := range b.hide[selector] {
			f := &st.filters[idx]
			f.DomainWhitelist = cloneSet(f.DomainWhitelist)

			for _, excIdx := range exceptions {
				domains := st.filters[excIdx].DomainBlacklist
				if domains == nil {
					continue
				}

				domains.Range(func(d string) (cont bool) {
					f.DomainWhitelist.Add(d)

					return true
				})
			}
		}
	}

	var global []string
	for _, selector := range b.selectors {
		isGlobal := false
		for _, idx := range b.hide[selector] {
			if st.filters[idx].HasDomainRules() {
				b.push(BucketDomainStyle, idx)
			} else {
				isGlobal = true
			}
		}

		if isGlobal {
			global = append(global, selector)
		}
	}

	st.stylesheet = converter.NewSplitter(converter.MaxSelectorsPerRule).Stylesheet(global)
}

func cloneSet(s *container.MapSet[string]) (clone *container.MapSet[string]) {
	if s == nil {
		return container.NewMapSet[string]()
	}

	return container.NewMapSet(s.Values()...)
}

// Stylesheet returns the global element hiding stylesheet.
func (s *Store) Stylesheet() (css string) {
	return s.stylesheet
}

// Len returns the number of filters in bucket.
func (s *Store) Len(bucket Bucket) (n int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.buckets[bucket])
}

// Filters returns the filters of bucket in their current order.  The
// filters must not be modified.
func (s *Store) Filters(bucket Bucket) (filters []*models.Filter) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filters = make([]*models.Filter, 0, len(s.buckets[bucket]))
	for _, idx := range s.buckets[bucket] {
		filters = append(filters, &s.filters[idx])
	}

	return filters
}

// Scans returns the number of full scans of bucket made to collect domain
// filters.
func (s *Store) Scans(bucket Bucket) (n uint64) {
	return s.scans[bucket].Load()
}

// MatchFront returns the first filter of bucket matching req and swaps it
// with the first filter of the bucket, so that filters that match often are
// checked early.
func (s *Store) MatchFront(bucket Bucket, req *models.MatchRequest) (f *models.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.buckets[bucket]
	for i, idx := range list {
		if s.filters[idx].Match(req) {
			list[0], list[i] = list[i], list[0]

			return &s.filters[idx]
		}
	}

	return nil
}

// Match returns the first filter of bucket matching req without reordering
// the bucket.
func (s *Store) Match(bucket Bucket, req *models.MatchRequest) (f *models.Filter) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, idx := range s.buckets[bucket] {
		if s.filters[idx].Match(req) {
			return &s.filters[idx]
		}
	}

	return nil
}

// MatchAll returns every filter of bucket matching req.
func (s *Store) MatchAll(bucket Bucket, req *models.MatchRequest) (filters []*models.Filter) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, idx := range s.buckets[bucket] {
		if s.filters[idx].Match(req) {
			filters = append(filters, &s.filters[idx])
		}
	}

	return filters
}

// DomainMatches returns the filters of bucket whose domain scoping applies
// to domain.
func (s *Store) DomainMatches(bucket Bucket, domain string) (filters []*models.Filter) {
	s.scans[bucket].Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, idx := range s.buckets[bucket] {
		if s.filters[idx].DomainStyleMatch(domain) {
			filters = append(filters, &s.filters[idx])
		}
	}

	return filters
}
