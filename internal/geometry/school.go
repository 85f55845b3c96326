package geometry

import (
	"context"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/quadtree"
	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

const (
	// UnrankedRank is given to secondary schools missing from the ranking.
	UnrankedRank = 101
	// GoodnessEpsilon keeps the worst ranked school above zero.
	GoodnessEpsilon = 0.01
	// DefaultDistanceDecay is the β in goodness / (1 + β·km).
	DefaultDistanceDecay = 0.2
)

// Goodness maps a rank in [1, 101] onto (0, 1].
func Goodness(rank int) float64 {
	return 1 - math.Log(float64(rank))/math.Log(UnrankedRank) + GoodnessEpsilon
}

// AssignRanks sets Rank and Goodness on each school from a name -> rank table.
// Secondary schools missing from the table get UnrankedRank; other unranked
// schools get no goodness and never win a band.
func AssignRanks(schools []*models.School, ranks map[string]int) {
	normalized := make(map[string]int, len(ranks))
	for name, r := range ranks {
		normalized[strings.ToLower(strings.TrimSpace(name))] = r
	}

	for _, s := range schools {
		s.Rank, s.Goodness = nil, nil
		r, ok := normalized[strings.ToLower(strings.TrimSpace(s.Name))]
		switch {
		case ok:
			s.Rank = models.IntPtr(r)
		case s.Secondary:
			s.Rank = models.IntPtr(UnrankedRank)
		default:
			continue
		}
		s.Goodness = models.FloatPtr(Goodness(*s.Rank))
	}
}

// SchoolIndex is a read-only spatial index over school locations.
type SchoolIndex struct {
	tree  *quadtree.Quadtree
	count int
}

func NewSchoolIndex(schools []*models.School) *SchoolIndex {
	bound := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	tree := quadtree.New(bound)
	n := 0
	for _, s := range schools {
		if err := tree.Add(s); err == nil {
			n++
		}
	}
	return &SchoolIndex{tree: tree, count: n}
}

func (idx *SchoolIndex) Len() int {
	return idx.count
}

// Within returns the schools inside the areal geometry g.
func (idx *SchoolIndex) Within(g orb.Geometry) []*models.School {
	if g == nil {
		return nil
	}
	var out []*models.School
	for _, p := range idx.tree.InBound(nil, g.Bound()) {
		s := p.(*models.School)
		if Covers(g, s.Location) {
			out = append(out, s)
		}
	}
	return out
}

// MatchResult is the best school for one band and the number of schools that
// were reachable.
type MatchResult struct {
	Match models.SchoolMatch
	Count int
}

// BestSchool scores every school reachable within the isochrone that existed
// in the listing's year and returns the highest scoring one. Without an
// origin the count is still reported but no school is scored.
func (idx *SchoolIndex) BestSchool(isochrone orb.Geometry, origin *orb.Point, year int, decay float64) MatchResult {
	var res MatchResult
	bestScore := math.Inf(-1)

	for _, s := range idx.Within(isochrone) {
		if !s.ExistedIn(year) {
			continue
		}
		res.Count++
		if s.Goodness == nil || origin == nil {
			continue
		}
		km := geo.DistanceHaversine(*origin, s.Location) / 1000
		score := *s.Goodness / (1 + decay*km)
		if score > bestScore {
			bestScore = score
			res.Match = models.SchoolMatch{
				Name:       models.StringPtr(s.Name),
				Location:   models.PointPtr(s.Location),
				Score:      models.FloatPtr(score),
				DistanceKm: models.FloatPtr(km),
			}
		}
	}
	return res
}

// SchoolStage fills the best-school block and reachable count of every band
// with an isochrone.
type SchoolStage struct {
	index  *SchoolIndex
	decay  float64
	logger *logrus.Logger
}

func NewSchoolStage(index *SchoolIndex, decay float64, logger *logrus.Logger) *SchoolStage {
	return &SchoolStage{index: index, decay: decay, logger: logger}
}

func (s *SchoolStage) Name() string { return "schools" }

func (s *SchoolStage) Requires() []models.Column {
	return append([]models.Column{models.ColCoordinates, models.ColYear}, models.IsochroneColumns()...)
}

func (s *SchoolStage) Produces() []models.Column { return models.SchoolColumns() }

func (s *SchoolStage) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	matched, missing := 0, 0
	for _, l := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.Coordinates == nil {
			s.logger.WithField("property_id", l.PropertyID).Debug("Listing has no coordinates, schools are counted but not scored")
		}
		for i := range models.Bands {
			iso := l.Isochrones[i]
			if iso == nil {
				missing++
				continue
			}
			res := s.index.BestSchool(iso, l.Coordinates, l.Year, s.decay)
			l.SchoolCounts[i] = models.IntPtr(res.Count)
			l.Schools[i] = res.Match
			if res.Match.Complete() {
				matched++
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"rows":              len(rows),
		"matched_bands":     matched,
		"missing_isochrone": missing,
	}).Info("Assigned best schools")
	return rows, nil
}
