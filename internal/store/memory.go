package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/movreport/internal/schema"
)

// Memory is an in-process Store. Records are kept as encoded JSON so
// callers never share report values with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memRecord
}

type memRecord struct {
	payload []byte
	report  *schema.Report
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memRecord)}
}

func (m *Memory) Save(ctx context.Context, r *schema.Report) (string, error) {
	id := schema.NaturalKey(r)
	payload, err := encode(r)
	if err != nil {
		return "", err
	}
	snapshot, err := decode(payload)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.records[id] = memRecord{payload: payload, report: snapshot}
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*schema.Report, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decode(rec.payload)
}

func (m *Memory) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	f := opts.Filter
	return m.collect(opts.Offset, limitOf(opts.Limit), func(rec memRecord) bool {
		r := rec.report
		if f.Protocol != "" && r.ProtocolNumber != f.Protocol {
			return false
		}
		if f.Site != "" && r.SiteInfo.SiteNumber != f.Site {
			return false
		}
		if f.RequiresReview != nil && r.DataQuality.RequiresReview != *f.RequiresReview {
			return false
		}
		return true
	})
}

func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func (m *Memory) Search(ctx context.Context, q string, limit int) ([]Entry, error) {
	needle := strings.ToLower(q)
	return m.collect(0, limitOf(limit), func(rec memRecord) bool {
		return strings.Contains(strings.ToLower(string(rec.payload)), needle)
	})
}

func (m *Memory) Close() error { return nil }

// collect returns matching entries ordered like the SQL store: newest
// extraction first, then by id.
func (m *Memory) collect(offset, limit int, match func(memRecord) bool) ([]Entry, error) {
	m.mu.RLock()
	type keyed struct {
		id  string
		rec memRecord
	}
	var hits []keyed
	for id, rec := range m.records {
		if match(rec) {
			hits = append(hits, keyed{id, rec})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		ti, tj := hits[i].rec.report.Extraction.Timestamp, hits[j].rec.report.Extraction.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return hits[i].id < hits[j].id
	})
	if offset < 0 {
		offset = 0
	}
	if offset > len(hits) {
		offset = len(hits)
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]Entry, 0, len(hits))
	for _, h := range hits {
		r, err := decode(h.rec.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{ID: h.id, Report: r})
	}
	return out, nil
}
