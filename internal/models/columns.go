package models

import (
	"fmt"
	"sort"
)

// Column names a field of Listing as it appears at stage boundaries.
type Column string

const (
	ColPropertyID       Column = "property_id"
	ColRentalPrice      Column = "rental_price"
	ColWeeklyRent       Column = "weekly_rent"
	ColPropertyType     Column = "property_type"
	ColCategory         Column = "house_flat_other"
	ColPropertyFeatures Column = "property_features"
	ColBedrooms         Column = "bedrooms"
	ColBathrooms        Column = "bathrooms"
	ColCarSpaces        Column = "car_spaces"
	ColLandArea         Column = "land_area"
	ColURL              Column = "url"
	ColAddress          Column = "address"
	ColSuburb           Column = "suburb"
	ColState            Column = "state"
	ColPostcode         Column = "postcode"
	ColCoordinates      Column = "coordinates"
	ColYear             Column = "year"
	ColQuarter          Column = "quarter"
	ColDescription      Column = "description"
	ColAgencyName       Column = "agency_name"
	ColAmenities        Column = "amenities"
	ColSuburbLag        Column = "suburb_rent_lag"
)

func IsochroneColumn(b Band) Column { return Column(b.String()) }
func SchoolNameColumn(b Band) Column { return Column("best_school_name_" + b.String()) }
func SchoolLocationColumn(b Band) Column { return Column("best_school_coordinates_" + b.String()) }
func SchoolScoreColumn(b Band) Column { return Column("best_school_score_" + b.String()) }
func SchoolDistanceColumn(b Band) Column { return Column("best_school_distance_km_" + b.String()) }
func SchoolCountColumn(b Band) Column { return Column("school_count_" + b.String()) }
func AmenityCountColumn(tag string) Column { return Column("count_" + tag) }
func AmenityDistColumn(tag string) Column { return Column("min_dist_" + tag) }

// IsochroneColumns returns the six isochrone polygon columns.
func IsochroneColumns() []Column {
	cols := make([]Column, 0, NumBands)
	for _, b := range Bands {
		cols = append(cols, IsochroneColumn(b))
	}
	return cols
}

// SchoolColumns returns the best-school block and count columns of every band.
func SchoolColumns() []Column {
	var cols []Column
	for _, b := range Bands {
		cols = append(cols,
			SchoolNameColumn(b), SchoolLocationColumn(b), SchoolScoreColumn(b),
			SchoolDistanceColumn(b), SchoolCountColumn(b))
	}
	return cols
}

// RawColumns are the columns the upstream scraper supplies.
var RawColumns = []Column{
	ColPropertyID, ColRentalPrice, ColPropertyType, ColPropertyFeatures, ColURL,
	ColSuburb, ColYear, ColQuarter, ColCoordinates, ColDescription, ColAgencyName,
}

// accessor exposes the nullability of one column and a value copy between listings.
type accessor struct {
	isNull func(l *Listing) bool
	copy   func(dst, src *Listing)
}

var accessors = map[Column]accessor{
	ColWeeklyRent: {
		isNull: func(l *Listing) bool { return l.WeeklyRent == nil },
		copy:   func(d, s *Listing) { d.WeeklyRent = s.WeeklyRent },
	},
	ColBedrooms: {
		isNull: func(l *Listing) bool { return l.Bedrooms == nil },
		copy:   func(d, s *Listing) { d.Bedrooms = s.Bedrooms },
	},
	ColBathrooms: {
		isNull: func(l *Listing) bool { return l.Bathrooms == nil },
		copy:   func(d, s *Listing) { d.Bathrooms = s.Bathrooms },
	},
	ColCarSpaces: {
		isNull: func(l *Listing) bool { return l.CarSpaces == nil },
		copy:   func(d, s *Listing) { d.CarSpaces = s.CarSpaces },
	},
	ColLandArea: {
		isNull: func(l *Listing) bool { return l.LandArea == nil },
		copy:   func(d, s *Listing) { d.LandArea = s.LandArea },
	},
	ColCoordinates: {
		isNull: func(l *Listing) bool { return l.Coordinates == nil },
		copy:   func(d, s *Listing) { d.Coordinates = s.Coordinates },
	},
	ColSuburbLag: {
		isNull: func(l *Listing) bool { return l.SuburbLag == nil },
		copy:   func(d, s *Listing) { d.SuburbLag = s.SuburbLag },
	},
}

func init() {
	for i, b := range Bands {
		i := i
		accessors[IsochroneColumn(b)] = accessor{
			isNull: func(l *Listing) bool { return l.Isochrones[i] == nil },
			copy:   func(d, s *Listing) { d.Isochrones[i] = s.Isochrones[i] },
		}
		accessors[SchoolCountColumn(b)] = accessor{
			isNull: func(l *Listing) bool { return l.SchoolCounts[i] == nil },
			copy:   func(d, s *Listing) { d.SchoolCounts[i] = s.SchoolCounts[i] },
		}
		accessors[SchoolScoreColumn(b)] = accessor{
			isNull: func(l *Listing) bool { return l.Schools[i].Score == nil },
			copy:   func(d, s *Listing) { d.Schools[i].Score = s.Schools[i].Score },
		}
		accessors[SchoolDistanceColumn(b)] = accessor{
			isNull: func(l *Listing) bool { return l.Schools[i].DistanceKm == nil },
			copy:   func(d, s *Listing) { d.Schools[i].DistanceKm = s.Schools[i].DistanceKm },
		}
	}
}

// Nullable reports whether c supports null checks and value copies.
func Nullable(c Column) bool {
	_, ok := accessors[c]
	return ok
}

// IsNull reports whether column c of l is null.
func (l *Listing) IsNull(c Column) (bool, error) {
	a, ok := accessors[c]
	if !ok {
		return false, fmt.Errorf("column %q is not nullable", c)
	}
	return a.isNull(l), nil
}

// CopyColumn copies the value of column c from src into l.
func (l *Listing) CopyColumn(c Column, src *Listing) error {
	a, ok := accessors[c]
	if !ok {
		return fmt.Errorf("column %q is not nullable", c)
	}
	a.copy(l, src)
	return nil
}

// ColumnSet is an unordered set of columns.
type ColumnSet map[Column]struct{}

func NewColumnSet(cols ...Column) ColumnSet {
	s := make(ColumnSet, len(cols))
	s.Add(cols...)
	return s
}

func (s ColumnSet) Add(cols ...Column) {
	for _, c := range cols {
		s[c] = struct{}{}
	}
}

func (s ColumnSet) Has(c Column) bool {
	_, ok := s[c]
	return ok
}

// Missing returns the columns of want absent from s, sorted.
func (s ColumnSet) Missing(want []Column) []Column {
	var missing []Column
	for _, c := range want {
		if !s.Has(c) {
			missing = append(missing, c)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// Columns returns the members of s, sorted.
func (s ColumnSet) Columns() []Column {
	out := make([]Column, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
