package reconcile

import (
	"sort"

	"rentfeatures/internal/models"
)

// Dedup keeps one observation per property_id: the one with the latest
// (year, quarter). Fields are never merged across observations. Output order
// follows the first appearance of each property in rows.
func Dedup(rows []*models.Listing) []*models.Listing {
	sorted := make([]*models.Listing, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Vintage() > sorted[j].Vintage()
	})

	latest := make(map[int64]*models.Listing, len(rows))
	for _, l := range sorted {
		if _, ok := latest[l.PropertyID]; !ok {
			latest[l.PropertyID] = l
		}
	}

	out := make([]*models.Listing, 0, len(latest))
	for _, l := range rows {
		if keep, ok := latest[l.PropertyID]; ok {
			out = append(out, keep)
			delete(latest, l.PropertyID)
		}
	}
	return out
}

// SuburbCounts counts observations per suburb.
func SuburbCounts(rows []*models.Listing) map[string]int {
	counts := make(map[string]int)
	for _, l := range rows {
		counts[l.Suburb]++
	}
	return counts
}

// CanonicalSuburbs returns the distinct canonical suburbs of rows, sorted.
func CanonicalSuburbs(rows []*models.Listing, mapping *Mapping) []string {
	seen := make(map[string]bool)
	var names []string
	for _, l := range rows {
		name := mapping.Canonicalize(l.Suburb)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilterSmallSuburbs drops every row whose suburb has minObservations or fewer
// rows. A threshold of zero or less keeps everything.
func FilterSmallSuburbs(rows []*models.Listing, minObservations int) []*models.Listing {
	if minObservations <= 0 {
		return rows
	}
	counts := SuburbCounts(rows)
	out := make([]*models.Listing, 0, len(rows))
	for _, l := range rows {
		if counts[l.Suburb] > minObservations {
			out = append(out, l)
		}
	}
	return out
}
