package mas

import (
	"context"
	"sort"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/metrics"
)

// MemoryStore serves records declared in the service config.
type MemoryStore struct {
	records map[string]*coverages.Record
	objects map[string]coverages.Object
	ids     []string
}

// NewMemoryStore validates records by resolving them; composites must
// reference records of the same set.
func NewMemoryStore(records []coverages.Record) (*MemoryStore, error) {
	objs, err := coverages.Resolve(records)
	if err != nil {
		return nil, err
	}

	s := &MemoryStore{
		records: make(map[string]*coverages.Record, len(records)),
		objects: make(map[string]coverages.Object, len(objs)),
	}
	for i := range records {
		r := records[i]
		s.records[r.Identifier] = &r
		s.objects[r.Identifier] = objs[i]
		s.ids = append(s.ids, r.Identifier)
	}
	sort.Strings(s.ids)
	return s, nil
}

func (s *MemoryStore) Record(ctx context.Context, id string) (*coverages.Record, error) {
	metrics.IncStoreLookup("memory")
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) Identifiers(ctx context.Context, kinds ...string) ([]string, error) {
	ks := kindSet(kinds)
	var out []string
	for _, id := range s.ids {
		if ks == nil || ks[kindOf(s.records[id])] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) Intersects(ctx context.Context, q Query) ([]string, error) {
	ks := kindSet(q.Kinds)
	var matched []coverages.Object
	for _, id := range s.ids {
		if ks != nil && !ks[kindOf(s.records[id])] {
			continue
		}
		o := s.objects[id]
		begin, end := o.(coverages.HasTemporalExtent).TimeExtent()
		if !q.Begin.IsZero() && end.Before(q.Begin) {
			continue
		}
		if !q.End.IsZero() && begin.After(q.End) {
			continue
		}
		if q.BBox != nil {
			fp := o.(coverages.HasFootprint).Footprint()
			if fp == nil || !coverages.Intersects(fp.BBox, *q.BBox) {
				continue
			}
		}
		matched = append(matched, o)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		bi, _ := matched[i].(coverages.HasTemporalExtent).TimeExtent()
		bj, _ := matched[j].(coverages.HasTemporalExtent).TimeExtent()
		return bi.Before(bj)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]string, len(matched))
	for i, o := range matched {
		out[i] = o.Identifier()
	}
	return out, nil
}

func kindOf(r *coverages.Record) string {
	if len(r.Kind) == 0 {
		return coverages.KindRectifiedDataset
	}
	return r.Kind
}
