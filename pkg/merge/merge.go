// Package merge reconciles a fresh discovery set with the previously
// persisted corpus.
package merge

import (
	"time"

	"github.com/amosWeiskopf/compwatch/internal/models"
)

// PlanOptions controls URL selection
type PlanOptions struct {
	ForceRefresh bool
	MaxItems     int // 0 means no cap
}

// Plan is the partition of one discovery set against the previous corpus
type Plan struct {
	New            []models.DiscoveredURL
	Known          []models.DiscoveredURL
	Targets        []models.DiscoveredURL
	SkippedOverCap []models.DiscoveredURL
}

// NewPlan partitions discovered URLs into new and known by canonical URL.
// Targets are the new URLs, or every discovered URL under force-refresh,
// capped at MaxItems in discovery order.
func NewPlan(prev *models.Corpus, discovered []models.DiscoveredURL, opts PlanOptions) *Plan {
	known := make(map[string]bool)
	if prev != nil {
		for _, r := range prev.Content {
			known[r.URL] = true
		}
	}

	plan := &Plan{}
	for _, d := range discovered {
		if known[d.URL] {
			plan.Known = append(plan.Known, d)
		} else {
			plan.New = append(plan.New, d)
		}
	}

	candidates := plan.New
	if opts.ForceRefresh {
		candidates = discovered
	}
	if opts.MaxItems > 0 && len(candidates) > opts.MaxItems {
		plan.Targets = candidates[:opts.MaxItems:opts.MaxItems]
		plan.SkippedOverCap = candidates[opts.MaxItems:]
	} else {
		plan.Targets = candidates
	}
	return plan
}

// WorkingSet is the in-memory corpus for one run. It is owned by a single
// goroutine.
type WorkingSet struct {
	now      time.Time
	records  []models.ContentRecord
	index    map[string]int
	previous map[string]bool
	added    int
}

// NewWorkingSet copies prev and clears every isNew flag. now stamps every
// record touched or upserted during the run.
func NewWorkingSet(prev *models.Corpus, now time.Time) *WorkingSet {
	ws := &WorkingSet{
		now:      now.UTC().Truncate(time.Second),
		index:    make(map[string]int),
		previous: make(map[string]bool),
	}
	if prev == nil {
		return ws
	}
	ws.records = make([]models.ContentRecord, 0, len(prev.Content))
	for _, r := range prev.Content {
		if _, dup := ws.index[r.URL]; dup {
			continue
		}
		r.IsNew = false
		ws.index[r.URL] = len(ws.records)
		ws.previous[r.URL] = true
		ws.records = append(ws.records, r)
	}
	return ws
}

// Now returns the run timestamp
func (ws *WorkingSet) Now() time.Time {
	return ws.now
}

// Touch bumps lastChecked on a known record. It reports false for an
// unknown URL.
func (ws *WorkingSet) Touch(url string) bool {
	i, ok := ws.index[url]
	if !ok {
		return false
	}
	ws.records[i].LastChecked = ws.now
	return true
}

// Upsert inserts or replaces a record by URL. firstSeen is carried over
// from the existing record and set to now otherwise; isNew is true only
// when the URL was absent from the previous corpus.
func (ws *WorkingSet) Upsert(record models.ContentRecord) {
	record.LastChecked = ws.now
	record.IsNew = !ws.previous[record.URL]

	if i, ok := ws.index[record.URL]; ok {
		record.FirstSeen = ws.records[i].FirstSeen
		if record.FirstSeen.IsZero() {
			record.FirstSeen = ws.now
		}
		ws.records[i] = record
		return
	}

	record.FirstSeen = ws.now
	ws.index[record.URL] = len(ws.records)
	ws.records = append(ws.records, record)
	ws.added++
}

// Added returns how many records were inserted this run
func (ws *WorkingSet) Added() int {
	return ws.added
}

// Len returns the number of records
func (ws *WorkingSet) Len() int {
	return len(ws.records)
}

// Records returns a copy of the records, previous ones first in their
// original order, then new ones in insertion order.
func (ws *WorkingSet) Records() []models.ContentRecord {
	out := make([]models.ContentRecord, len(ws.records))
	copy(out, ws.records)
	return out
}

// Corpus snapshots the working set. The summary is left for the analyzer.
func (ws *WorkingSet) Corpus() *models.Corpus {
	records := ws.Records()
	return &models.Corpus{
		LastUpdated:  ws.now,
		TotalContent: len(records),
		Content:      records,
	}
}
