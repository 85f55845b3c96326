package geometry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/quadtree"
	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// AdjacencyOptions configure the k-nearest-neighbour connectivity graph.
type AdjacencyOptions struct {
	K        int
	Strength float64
	Epsilon  float64
}

func DefaultAdjacencyOptions() AdjacencyOptions {
	return AdjacencyOptions{K: 15, Strength: 1.0, Epsilon: 1e-4}
}

// Matrix is a dense square weight matrix over suburb names. It is not
// modified after construction; transformations return new matrices.
type Matrix struct {
	Names []string
	W     [][]float64
	index map[string]int
}

// NewMatrix builds a zero matrix over names.
func NewMatrix(names []string) *Matrix {
	m := &Matrix{
		Names: append([]string(nil), names...),
		W:     make([][]float64, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range m.Names {
		m.W[i] = make([]float64, len(names))
		m.index[n] = i
	}
	return m
}

func (m *Matrix) Len() int {
	return len(m.Names)
}

// Index returns the row of name, or -1.
func (m *Matrix) Index(name string) int {
	if i, ok := m.index[name]; ok {
		return i
	}
	return -1
}

// At returns W[a][b], or 0 when either name is unknown.
func (m *Matrix) At(a, b string) float64 {
	i, j := m.Index(a), m.Index(b)
	if i < 0 || j < 0 {
		return 0
	}
	return m.W[i][j]
}

// RowSum returns the total weight of a row.
func (m *Matrix) RowSum(i int) float64 {
	sum := 0.0
	for _, w := range m.W[i] {
		sum += w
	}
	return sum
}

// Neighbours returns the names with non-zero weight from name, sorted.
func (m *Matrix) Neighbours(name string) []string {
	i := m.Index(name)
	if i < 0 {
		return nil
	}
	var out []string
	for j, w := range m.W[i] {
		if w != 0 {
			out = append(out, m.Names[j])
		}
	}
	sort.Strings(out)
	return out
}

type centroid struct {
	idx  int
	wgs  orb.Point
	merc orb.Point
}

func (c *centroid) Point() orb.Point {
	return c.merc
}

// BuildAdjacency connects each suburb to its k nearest neighbours by centroid.
// Neighbours are searched in Web Mercator; weights use the geodesic centroid
// distance in km as strength / (km + ε). The result is symmetric, taking the
// larger weight of the two directions.
func BuildAdjacency(suburbs []*Suburb, opts AdjacencyOptions, logger *logrus.Logger) (*Matrix, error) {
	names := make([]string, 0, len(suburbs))
	cents := make([]*centroid, 0, len(suburbs))
	var bound orb.Bound
	for _, s := range suburbs {
		c, err := s.Centroid()
		if err != nil {
			logger.WithError(err).WithField("suburb", s.Name).Warn("Skipping suburb without centroid")
			continue
		}
		cent := &centroid{idx: len(cents), wgs: c, merc: project.Point(c, project.WGS84.ToMercator)}
		if len(cents) == 0 {
			bound = cent.merc.Bound()
		} else {
			bound = bound.Extend(cent.merc)
		}
		names = append(names, s.Name)
		cents = append(cents, cent)
	}
	if len(cents) == 0 {
		return nil, fmt.Errorf("no suburb centroids: %w", ErrEmptyGeometry)
	}

	tree := quadtree.New(bound.Pad(1))
	for _, c := range cents {
		if err := tree.Add(c); err != nil {
			return nil, fmt.Errorf("failed to index centroid: %w", err)
		}
	}

	m := NewMatrix(names)
	edges := 0
	buf := make([]orb.Pointer, 0, opts.K+1)
	for _, c := range cents {
		buf = tree.KNearest(buf[:0], c.merc, opts.K+1)
		for _, p := range buf {
			n := p.(*centroid)
			if n.idx == c.idx {
				continue
			}
			km := geo.DistanceHaversine(c.wgs, n.wgs) / 1000
			if km == 0 {
				continue
			}
			w := opts.Strength / (km + opts.Epsilon)
			if w > m.W[c.idx][n.idx] {
				m.W[c.idx][n.idx] = w
				m.W[n.idx][c.idx] = w
				edges++
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"suburbs": len(names),
		"k":       opts.K,
		"edges":   edges,
	}).Info("Built spatial adjacency matrix")
	return m, nil
}

// Aggregate builds a matrix over the requested names. A name present in m
// maps to itself; any other name is resolved through composites (or split on
// hyphens) into base suburbs, and the block between two such groups is
// summed. Unknown parts contribute nothing and the diagonal is zero.
func (m *Matrix) Aggregate(names []string, composites map[string][]string) *Matrix {
	parts := make([][]int, len(names))
	for i, name := range names {
		parts[i] = m.resolve(name, composites)
	}

	out := NewMatrix(names)
	for i := range names {
		for j := range names {
			if i == j {
				continue
			}
			sum := 0.0
			for _, a := range parts[i] {
				for _, b := range parts[j] {
					sum += m.W[a][b]
				}
			}
			out.W[i][j] = sum
		}
	}
	return out
}

func (m *Matrix) resolve(name string, composites map[string][]string) []int {
	if i := m.Index(name); i >= 0 {
		return []int{i}
	}
	candidates, ok := composites[name]
	if !ok {
		candidates = splitComposite(name)
	}
	var out []int
	seen := make(map[int]bool)
	for _, p := range candidates {
		if i := m.Index(p); i >= 0 && !seen[i] {
			out = append(out, i)
			seen[i] = true
		}
	}
	return out
}

func splitComposite(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool { return r == '-' })
}

// RowNormalize returns a copy of m whose non-zero rows sum to 1.
func (m *Matrix) RowNormalize() *Matrix {
	out := NewMatrix(m.Names)
	for i := range m.W {
		total := m.RowSum(i)
		if total == 0 {
			continue
		}
		for j, w := range m.W[i] {
			out.W[i][j] = w / total
		}
	}
	return out
}

// SpatialLag returns W·x for a per-suburb value. Suburbs missing from values
// contribute zero.
func (m *Matrix) SpatialLag(values map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m.Names))
	for i, name := range m.Names {
		lag := 0.0
		for j, w := range m.W[i] {
			if w == 0 {
				continue
			}
			if v, ok := values[m.Names[j]]; ok && !math.IsNaN(v) {
				lag += w * v
			}
		}
		out[name] = lag
	}
	return out
}

// SpatialLagStage sets each listing's suburb_rent_lag to the weighted mean of
// neighbouring suburbs' mean weekly rent.
type SpatialLagStage struct {
	matrix *Matrix
	logger *logrus.Logger
}

// NewSpatialLagStage expects a row-normalised matrix over canonical suburbs.
func NewSpatialLagStage(matrix *Matrix, logger *logrus.Logger) *SpatialLagStage {
	return &SpatialLagStage{matrix: matrix, logger: logger}
}

func (s *SpatialLagStage) Name() string { return "spatial_lag" }

func (s *SpatialLagStage) Requires() []models.Column {
	return []models.Column{models.ColSuburb, models.ColWeeklyRent}
}

func (s *SpatialLagStage) Produces() []models.Column {
	return []models.Column{models.ColSuburbLag}
}

func (s *SpatialLagStage) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, l := range rows {
		if l.WeeklyRent == nil {
			continue
		}
		sums[l.Suburb] += *l.WeeklyRent
		counts[l.Suburb]++
	}
	means := make(map[string]float64, len(sums))
	for suburb, total := range sums {
		means[suburb] = total / float64(counts[suburb])
	}

	lags := s.matrix.SpatialLag(means)
	unmatched := 0
	for _, l := range rows {
		lag, ok := lags[l.Suburb]
		if !ok {
			unmatched++
			continue
		}
		l.SuburbLag = models.FloatPtr(lag)
	}

	s.logger.WithFields(logrus.Fields{
		"suburbs":   len(means),
		"unmatched": unmatched,
	}).Info("Computed suburb rent spatial lag")
	return rows, nil
}
