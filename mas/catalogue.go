package mas

import (
	"context"
	"fmt"

	"github.com/nci/eows/coverages"
)

// maxMembers bounds the records loaded to resolve one composite.
const maxMembers = 100000

// Catalogue resolves store records into coverage objects.
type Catalogue struct {
	store Store
}

func NewCatalogue(store Store) *Catalogue {
	return &Catalogue{store: store}
}

func (c *Catalogue) Store() Store {
	return c.store
}

// Lookup returns the object of id with all composite members resolved.
// ok is false when there is no such record.
func (c *Catalogue) Lookup(ctx context.Context, id string) (coverages.Object, bool, error) {
	root, err := c.store.Record(ctx, id)
	if err != nil || root == nil {
		return nil, false, err
	}

	records := []coverages.Record{*root}
	seen := map[string]bool{id: true}
	for i := 0; i < len(records); i++ {
		for _, mid := range records[i].Members {
			if seen[mid] {
				continue
			}
			seen[mid] = true
			if len(records) >= maxMembers {
				return nil, false, fmt.Errorf("'%s' has more than %d members", id, maxMembers)
			}
			m, err := c.store.Record(ctx, mid)
			if err != nil {
				return nil, false, err
			}
			if m == nil {
				return nil, false, fmt.Errorf("%s: unknown member '%s'", records[i].Identifier, mid)
			}
			records = append(records, *m)
		}
	}

	objs, err := coverages.Resolve(records)
	if err != nil {
		return nil, false, err
	}
	return objs[0], true, nil
}

// LookupKind is Lookup restricted to records of the given kinds.
func (c *Catalogue) LookupKind(ctx context.Context, id string, kinds ...string) (coverages.Object, bool, error) {
	o, ok, err := c.Lookup(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	for _, k := range kinds {
		if coverages.Subtype(o) == k {
			return o, true, nil
		}
	}
	return nil, false, nil
}

func (c *Catalogue) resolve(ctx context.Context, ids []string) ([]coverages.Object, error) {
	out := make([]coverages.Object, 0, len(ids))
	for _, id := range ids {
		o, ok, err := c.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// List returns the objects of the given kinds in identifier order.
func (c *Catalogue) List(ctx context.Context, kinds ...string) ([]coverages.Object, error) {
	ids, err := c.store.Identifiers(ctx, kinds...)
	if err != nil {
		return nil, err
	}
	return c.resolve(ctx, ids)
}

func (c *Catalogue) Intersects(ctx context.Context, q Query) ([]coverages.Object, error) {
	ids, err := c.store.Intersects(ctx, q)
	if err != nil {
		return nil, err
	}
	return c.resolve(ctx, ids)
}
