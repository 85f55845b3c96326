package impute

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb/geo"
	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// Scope records where an imputed value came from.
type Scope string

const (
	ScopeSuburb        Scope = "suburb"
	ScopeGlobal        Scope = "global"
	ScopeNone          Scope = "none"
	ScopeNoCoordinates Scope = "no_coordinates"
)

// Report is the provenance of one nearest-neighbour imputation.
type Report struct {
	PropertyID int64
	SourceID   int64
	Scope      Scope
	DistanceM  float64
}

// Imputed reports whether a source row was found.
func (r Report) Imputed() bool {
	return r.Scope == ScopeSuburb || r.Scope == ScopeGlobal
}

// NearestImputer fills a group of columns jointly from the nearest listing
// that has all of them, preferring listings in the same suburb.
type NearestImputer struct {
	columns []models.Column
	logger  *logrus.Logger
	reports []Report
}

func NewNearestImputer(columns []models.Column, logger *logrus.Logger) (*NearestImputer, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("nearest imputation needs at least one column")
	}
	for _, c := range columns {
		if !models.Nullable(c) {
			return nil, fmt.Errorf("column %q does not support nearest imputation", c)
		}
	}
	return &NearestImputer{columns: columns, logger: logger}, nil
}

func (n *NearestImputer) Name() string { return "impute_nearest" }

func (n *NearestImputer) Requires() []models.Column {
	return append([]models.Column{models.ColCoordinates, models.ColSuburb}, n.columns...)
}

func (n *NearestImputer) Produces() []models.Column { return nil }

// Reports returns the provenance of the last Apply.
func (n *NearestImputer) Reports() []Report {
	return n.reports
}

func (n *NearestImputer) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	pool := n.Index(rows)
	reports, err := pool.ImputeAll(ctx, rows)
	if err != nil {
		return nil, err
	}
	n.reports = reports
	return rows, nil
}

// Index snapshots every listing that has coordinates and all target columns.
// The pool is read-only and may be shared between goroutines.
func (n *NearestImputer) Index(rows []*models.Listing) *Pool {
	p := &Pool{
		columns:  n.columns,
		bySuburb: make(map[string][]*models.Listing),
		logger:   n.logger,
	}
	for _, l := range rows {
		if l.Coordinates == nil || !n.complete(l) {
			continue
		}
		c := l.Clone()
		p.all = append(p.all, c)
		p.bySuburb[c.Suburb] = append(p.bySuburb[c.Suburb], c)
	}
	n.logger.WithFields(logrus.Fields{
		"columns":    len(n.columns),
		"candidates": len(p.all),
		"suburbs":    len(p.bySuburb),
	}).Debug("Indexed imputation candidates")
	return p
}

func (n *NearestImputer) complete(l *models.Listing) bool {
	for _, c := range n.columns {
		if null, _ := l.IsNull(c); null {
			return false
		}
	}
	return true
}

// PoolStage imputes batches against a pool indexed over a larger set of rows,
// so chunks of a batch see every candidate. Apply is safe for concurrent use.
type PoolStage struct {
	pool    *Pool
	mu      sync.Mutex
	reports []Report
}

func NewPoolStage(pool *Pool) *PoolStage {
	return &PoolStage{pool: pool}
}

func (s *PoolStage) Name() string { return "impute_nearest" }

func (s *PoolStage) Requires() []models.Column {
	return append([]models.Column{models.ColCoordinates, models.ColSuburb}, s.pool.columns...)
}

func (s *PoolStage) Produces() []models.Column { return nil }

func (s *PoolStage) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	reports, err := s.pool.ImputeAll(ctx, rows)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.reports = append(s.reports, reports...)
	s.mu.Unlock()
	return rows, nil
}

// Reports returns the provenance collected over every Apply so far.
func (s *PoolStage) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, len(s.reports))
	copy(out, s.reports)
	return out
}

// Pool holds the candidate rows for one group of columns.
type Pool struct {
	columns  []models.Column
	all      []*models.Listing
	bySuburb map[string][]*models.Listing
	logger   *logrus.Logger
}

// Len returns the number of candidates.
func (p *Pool) Len() int {
	return len(p.all)
}

// ImputeAll imputes every row with a missing target column.
func (p *Pool) ImputeAll(ctx context.Context, rows []*models.Listing) ([]Report, error) {
	var reports []Report
	counts := make(map[Scope]int)
	for _, l := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.needsImputation(l) {
			continue
		}
		r := p.Impute(l)
		reports = append(reports, r)
		counts[r.Scope]++
	}

	p.logger.WithFields(logrus.Fields{
		"columns":        p.columns,
		"suburb":         counts[ScopeSuburb],
		"global":         counts[ScopeGlobal],
		"not_imputed":    counts[ScopeNone],
		"no_coordinates": counts[ScopeNoCoordinates],
	}).Info("Imputed by nearest neighbour")
	return reports, nil
}

func (p *Pool) needsImputation(l *models.Listing) bool {
	for _, c := range p.columns {
		if null, _ := l.IsNull(c); null {
			return true
		}
	}
	return false
}

// Impute copies every target column from the nearest same-suburb candidate,
// falling back to the nearest candidate anywhere. Rows without coordinates
// are left untouched.
func (p *Pool) Impute(l *models.Listing) Report {
	r := Report{PropertyID: l.PropertyID, Scope: ScopeNone}
	if l.Coordinates == nil {
		r.Scope = ScopeNoCoordinates
		p.logger.WithField("property_id", l.PropertyID).Debug("Cannot impute listing without coordinates")
		return r
	}

	src, dist := nearest(l, p.bySuburb[l.Suburb])
	scope := ScopeSuburb
	if src == nil {
		src, dist = nearest(l, p.all)
		scope = ScopeGlobal
	}
	if src == nil {
		return r
	}

	for _, c := range p.columns {
		if err := l.CopyColumn(c, src); err != nil {
			p.logger.WithError(err).WithField("property_id", l.PropertyID).Warn("Failed to copy imputed column")
		}
	}
	r.SourceID = src.PropertyID
	r.Scope = scope
	r.DistanceM = dist
	return r
}

func nearest(target *models.Listing, candidates []*models.Listing) (*models.Listing, float64) {
	var best *models.Listing
	bestDist := math.Inf(1)
	for _, c := range candidates {
		if c.PropertyID == target.PropertyID {
			continue
		}
		d := geo.DistanceHaversine(*target.Coordinates, *c.Coordinates)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}
