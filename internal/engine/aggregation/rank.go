package aggregation

import "sort"

// groups is an insertion-ordered map. Iteration follows first encounter,
// which makes ranking ties deterministic.
type groups[K comparable, V any] struct {
	order []K
	items map[K]*V
}

func newGroups[K comparable, V any]() *groups[K, V] {
	return &groups[K, V]{items: make(map[K]*V)}
}

func (g *groups[K, V]) get(key K, create func() *V) *V {
	if v, ok := g.items[key]; ok {
		return v
	}
	v := create()
	g.items[key] = v
	g.order = append(g.order, key)
	return v
}

func (g *groups[K, V]) values() []*V {
	out := make([]*V, 0, len(g.order))
	for _, k := range g.order {
		out = append(out, g.items[k])
	}
	return out
}

// rank sorts by descending metric; equal metrics keep their input order.
func rank[V any](items []*V, metric func(*V) int64) []*V {
	sort.SliceStable(items, func(i, j int) bool {
		return metric(items[i]) > metric(items[j])
	})
	return items
}
