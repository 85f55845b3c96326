package processor

import (
	"rentfeatures/internal/models"
	"rentfeatures/internal/queue"
)

// SplitChunks groups rows into chunks of at most size rows such that no
// suburb and no property_id is spread over two chunks. A group larger than
// size gets a chunk of its own. Groups keep the order of their first row.
func SplitChunks(rows []*models.Listing, size int) []queue.Chunk {
	if len(rows) == 0 {
		return nil
	}
	if size < 1 {
		size = len(rows)
	}

	uf := newUnionFind(len(rows))
	bySuburb := make(map[string]int)
	byID := make(map[int64]int)
	for i, l := range rows {
		if j, ok := bySuburb[l.Suburb]; ok {
			uf.union(i, j)
		} else {
			bySuburb[l.Suburb] = i
		}
		if j, ok := byID[l.PropertyID]; ok {
			uf.union(i, j)
		} else {
			byID[l.PropertyID] = i
		}
	}

	var order []int
	members := make(map[int][]int)
	for i := range rows {
		root := uf.find(i)
		if _, ok := members[root]; !ok {
			order = append(order, root)
		}
		members[root] = append(members[root], i)
	}

	var chunks []queue.Chunk
	var current []*models.Listing
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, queue.Chunk{Index: len(chunks), Rows: current})
			current = nil
		}
	}
	for _, root := range order {
		group := members[root]
		if len(current) > 0 && len(current)+len(group) > size {
			flush()
		}
		for _, i := range group {
			current = append(current, rows[i])
		}
	}
	flush()
	return chunks
}

// Merge concatenates chunk results in chunk order.
func Merge(results [][]*models.Listing) []*models.Listing {
	n := 0
	for _, r := range results {
		n += len(r)
	}
	out := make([]*models.Listing, 0, n)
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}
