package models

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Category is the coarse property type used for grouping and stratification.
type Category string

const (
	CategoryHouse   Category = "house"
	CategoryFlat    Category = "flat"
	CategoryUnknown Category = "unknown"
)

// Mode is an isochrone travel mode.
type Mode string

const (
	Walking Mode = "walking"
	Driving Mode = "driving"
)

// Band is one (mode, minutes) isochrone slot.
type Band struct {
	Mode    Mode
	Minutes int
}

// NumBands is the number of isochrone slots tracked per listing.
const NumBands = 6

// Bands lists every band in column order.
var Bands = [NumBands]Band{
	{Walking, 5}, {Walking, 10}, {Walking, 15},
	{Driving, 5}, {Driving, 10}, {Driving, 15},
}

func (b Band) String() string {
	return fmt.Sprintf("%s_%dmin", b.Mode, b.Minutes)
}

// Index returns the position of b in Bands, or -1.
func (b Band) Index() int {
	for i, band := range Bands {
		if band == b {
			return i
		}
	}
	return -1
}

// ParseBand parses names like "walking_10min".
func ParseBand(name string) (Band, error) {
	for _, band := range Bands {
		if band.String() == name {
			return band, nil
		}
	}
	return Band{}, fmt.Errorf("unknown isochrone band %q", name)
}

// SchoolMatch is the best-school block for one band. The block is complete
// only when all four fields are set.
type SchoolMatch struct {
	Name       *string
	Location   *orb.Point
	Score      *float64
	DistanceKm *float64
}

func (m SchoolMatch) Complete() bool {
	return m.Name != nil && m.Location != nil && m.Score != nil && m.DistanceKm != nil
}

func (m SchoolMatch) Empty() bool {
	return m.Name == nil && m.Location == nil && m.Score == nil && m.DistanceKm == nil
}

// AmenityStat aggregates the amenities of one tag around a listing.
type AmenityStat struct {
	Count        int
	MinDistanceM *float64
}

// Listing is one rental observation at one point in time. PropertyID is not
// unique across vintages.
type Listing struct {
	PropertyID       int64
	RentalPrice      string
	WeeklyRent       *float64
	PropertyType     string
	Category         Category
	PropertyFeatures string
	Bedrooms         *int
	Bathrooms        *int
	CarSpaces        *int
	LandArea         *int
	URL              string
	Address          string
	Suburb           string
	State            string
	Postcode         string
	Coordinates      *orb.Point
	Year             int
	Quarter          int
	Description      string
	AgencyName       string

	Isochrones   [NumBands]orb.Geometry
	Schools      [NumBands]SchoolMatch
	SchoolCounts [NumBands]*int
	Amenities    map[string]AmenityStat
	SuburbLag    *float64
}

// Clone returns a copy that shares no mutable state with l. Geometries are
// treated as immutable and shared.
func (l *Listing) Clone() *Listing {
	c := *l
	if l.Amenities != nil {
		c.Amenities = make(map[string]AmenityStat, len(l.Amenities))
		for k, v := range l.Amenities {
			c.Amenities[k] = v
		}
	}
	return &c
}

// Vintage orders observations by (year, quarter).
func (l *Listing) Vintage() int {
	return l.Year*10 + l.Quarter
}

// School is a reference school location.
type School struct {
	Name              string
	Location          orb.Point
	EstablishmentYear *int
	Secondary         bool
	Rank              *int
	Goodness          *float64
}

// ExistedIn reports whether the school can be matched to a listing observed
// in year.
func (s *School) ExistedIn(year int) bool {
	return s.EstablishmentYear == nil || *s.EstablishmentYear <= year
}

func (s *School) Point() orb.Point {
	return s.Location
}

// Amenity is a point of interest tagged with an amenity type.
type Amenity struct {
	Name     string
	Tag      string
	Location orb.Point
}

func (a *Amenity) Point() orb.Point {
	return a.Location
}

func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

func StringPtr(v string) *string { return &v }

func PointPtr(p orb.Point) *orb.Point { return &p }
