package geometry

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/quadtree"
	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// DefaultAmenityRadius is the search radius in metres around a listing.
const DefaultAmenityRadius = 2000.0

// DefaultAmenityTags are the amenity types counted when no configuration is given.
var DefaultAmenityTags = []string{
	"theatre", "cafe", "nightclub", "kindergarten", "doctors", "fuel", "bank", "library",
	"cinema", "restaurant", "atm", "bar", "fast_food", "pharmacy", "veterinary", "taxi",
	"brothel", "university", "police", "events_venue", "college", "car_rental", "clinic",
	"community_centre", "courier", "food_court", "social_facility", "parking_space",
	"hospital", "waste_disposal", "parcel_locker", "charging_station", "coworking_space",
	"meeting_point", "motorcycle_parking", "childcare", "social_centre", "music_venue",
	"healthcare", "waste_transfer_station", "casino", "fire_station",
	"student_accommodation", "retail", "prison", "nursing_home", "events_centre",
	"exhibition_centre", "conference_centre", "biergarten", "bus_station",
}

// AmenityIndex is a read-only spatial index over amenity points.
type AmenityIndex struct {
	tree  *quadtree.Quadtree
	count int
}

func NewAmenityIndex(amenities []*models.Amenity) *AmenityIndex {
	tree := quadtree.New(orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}})
	n := 0
	for _, a := range amenities {
		if err := tree.Add(a); err == nil {
			n++
		}
	}
	return &AmenityIndex{tree: tree, count: n}
}

func (idx *AmenityIndex) Len() int {
	return idx.count
}

// Around aggregates the amenities of each wanted tag within radius metres of
// p. Tags with no amenity in range are absent from the result.
func (idx *AmenityIndex) Around(p orb.Point, radius float64, tags map[string]bool) map[string]models.AmenityStat {
	out := make(map[string]models.AmenityStat)
	bound := geo.NewBoundAroundPoint(p, radius)
	for _, ptr := range idx.tree.InBound(nil, bound) {
		a := ptr.(*models.Amenity)
		if !tags[a.Tag] {
			continue
		}
		d := geo.DistanceHaversine(p, a.Location)
		if d > radius {
			continue
		}
		st := out[a.Tag]
		st.Count++
		if st.MinDistanceM == nil || d < *st.MinDistanceM {
			st.MinDistanceM = models.FloatPtr(d)
		}
		out[a.Tag] = st
	}
	return out
}

// AmenityStage counts amenities per tag around each listing and records the
// distance to the closest one.
type AmenityStage struct {
	index  *AmenityIndex
	tags   []string
	tagSet map[string]bool
	radius float64
	logger *logrus.Logger
}

func NewAmenityStage(index *AmenityIndex, tags []string, radius float64, logger *logrus.Logger) *AmenityStage {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return &AmenityStage{index: index, tags: tags, tagSet: set, radius: radius, logger: logger}
}

func (s *AmenityStage) Name() string { return "amenities" }

func (s *AmenityStage) Requires() []models.Column {
	return []models.Column{models.ColCoordinates}
}

func (s *AmenityStage) Produces() []models.Column {
	cols := []models.Column{models.ColAmenities}
	for _, tag := range s.tags {
		cols = append(cols, models.AmenityCountColumn(tag), models.AmenityDistColumn(tag))
	}
	return cols
}

func (s *AmenityStage) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	empty := 0
	for _, l := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.Coordinates == nil {
			s.logger.WithField("property_id", l.PropertyID).Debug("Skipping amenity search for listing without coordinates")
			continue
		}
		l.Amenities = s.index.Around(*l.Coordinates, s.radius, s.tagSet)
		if len(l.Amenities) == 0 {
			empty++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"rows":   len(rows),
		"empty":  empty,
		"tags":   len(s.tags),
		"radius": s.radius,
	}).Info("Counted amenities")
	return rows, nil
}
