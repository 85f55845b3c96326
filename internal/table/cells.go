package table

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"rentfeatures/internal/geometry"
	"rentfeatures/internal/models"
)

// Extra input columns that are folded into coordinates.
const (
	colLongitude = "longitude"
	colLatitude  = "latitude"
)

type cell struct {
	get func(l *models.Listing) string
	set func(l *models.Listing, v string) error
}

var scalarOrder = []models.Column{
	models.ColPropertyID, models.ColRentalPrice, models.ColWeeklyRent, models.ColPropertyType,
	models.ColCategory, models.ColPropertyFeatures, models.ColBedrooms, models.ColBathrooms,
	models.ColCarSpaces, models.ColLandArea, models.ColURL, models.ColAddress, models.ColSuburb,
	models.ColState, models.ColPostcode, models.ColCoordinates, models.ColYear, models.ColQuarter,
	models.ColDescription, models.ColAgencyName,
}

func stringCell(field func(l *models.Listing) *string) cell {
	return cell{
		get: func(l *models.Listing) string { return *field(l) },
		set: func(l *models.Listing, v string) error { *field(l) = v; return nil },
	}
}

func intPtrCell(field func(l *models.Listing) **int) cell {
	return cell{
		get: func(l *models.Listing) string { return formatInt(*field(l)) },
		set: func(l *models.Listing, v string) (err error) {
			*field(l), err = parseInt(v)
			return err
		},
	}
}

func floatPtrCell(field func(l *models.Listing) **float64) cell {
	return cell{
		get: func(l *models.Listing) string { return formatFloat(*field(l)) },
		set: func(l *models.Listing, v string) (err error) {
			*field(l), err = parseFloat(v)
			return err
		},
	}
}

var cells = map[models.Column]cell{
	models.ColPropertyID: {
		get: func(l *models.Listing) string { return strconv.FormatInt(l.PropertyID, 10) },
		set: func(l *models.Listing, v string) (err error) {
			l.PropertyID, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			return err
		},
	},
	models.ColRentalPrice:      stringCell(func(l *models.Listing) *string { return &l.RentalPrice }),
	models.ColWeeklyRent:       floatPtrCell(func(l *models.Listing) **float64 { return &l.WeeklyRent }),
	models.ColPropertyType:     stringCell(func(l *models.Listing) *string { return &l.PropertyType }),
	models.ColPropertyFeatures: stringCell(func(l *models.Listing) *string { return &l.PropertyFeatures }),
	models.ColBedrooms:         intPtrCell(func(l *models.Listing) **int { return &l.Bedrooms }),
	models.ColBathrooms:        intPtrCell(func(l *models.Listing) **int { return &l.Bathrooms }),
	models.ColCarSpaces:        intPtrCell(func(l *models.Listing) **int { return &l.CarSpaces }),
	models.ColLandArea:         intPtrCell(func(l *models.Listing) **int { return &l.LandArea }),
	models.ColURL:              stringCell(func(l *models.Listing) *string { return &l.URL }),
	models.ColAddress:          stringCell(func(l *models.Listing) *string { return &l.Address }),
	models.ColSuburb:           stringCell(func(l *models.Listing) *string { return &l.Suburb }),
	models.ColState:            stringCell(func(l *models.Listing) *string { return &l.State }),
	models.ColPostcode:         stringCell(func(l *models.Listing) *string { return &l.Postcode }),
	models.ColDescription:      stringCell(func(l *models.Listing) *string { return &l.Description }),
	models.ColAgencyName:       stringCell(func(l *models.Listing) *string { return &l.AgencyName }),
	models.ColSuburbLag:        floatPtrCell(func(l *models.Listing) **float64 { return &l.SuburbLag }),
	models.ColCategory: {
		get: func(l *models.Listing) string { return string(l.Category) },
		set: func(l *models.Listing, v string) error { l.Category = models.Category(v); return nil },
	},
	models.ColCoordinates: {
		get: func(l *models.Listing) string { return formatPoint(l.Coordinates) },
		set: func(l *models.Listing, v string) (err error) {
			l.Coordinates, err = parsePoint(v)
			return err
		},
	},
	models.ColYear: {
		get: func(l *models.Listing) string { return strconv.Itoa(l.Year) },
		set: func(l *models.Listing, v string) (err error) {
			l.Year, err = strconv.Atoi(strings.TrimSpace(v))
			return err
		},
	},
	models.ColQuarter: {
		get: func(l *models.Listing) string { return strconv.Itoa(l.Quarter) },
		set: func(l *models.Listing, v string) (err error) {
			l.Quarter, err = strconv.Atoi(strings.TrimSpace(v))
			return err
		},
	},
}

func init() {
	for i, b := range models.Bands {
		i := i
		cells[models.IsochroneColumn(b)] = cell{
			get: func(l *models.Listing) string { return geometry.FormatGeometry(l.Isochrones[i]) },
			set: func(l *models.Listing, v string) error {
				g, err := geometry.ParseIsochrone(v)
				if errors.Is(err, geometry.ErrEmptyGeometry) {
					l.Isochrones[i] = nil
					return nil
				}
				l.Isochrones[i] = g
				return err
			},
		}
		cells[models.SchoolNameColumn(b)] = cell{
			get: func(l *models.Listing) string {
				if l.Schools[i].Name == nil {
					return ""
				}
				return *l.Schools[i].Name
			},
			set: func(l *models.Listing, v string) error {
				l.Schools[i].Name = nil
				if v != "" {
					l.Schools[i].Name = models.StringPtr(v)
				}
				return nil
			},
		}
		cells[models.SchoolLocationColumn(b)] = cell{
			get: func(l *models.Listing) string { return formatPoint(l.Schools[i].Location) },
			set: func(l *models.Listing, v string) (err error) {
				l.Schools[i].Location, err = parsePoint(v)
				return err
			},
		}
		cells[models.SchoolScoreColumn(b)] = floatPtrCell(func(l *models.Listing) **float64 { return &l.Schools[i].Score })
		cells[models.SchoolDistanceColumn(b)] = floatPtrCell(func(l *models.Listing) **float64 { return &l.Schools[i].DistanceKm })
		cells[models.SchoolCountColumn(b)] = intPtrCell(func(l *models.Listing) **int { return &l.SchoolCounts[i] })
	}
}

const (
	countPrefix   = "count_"
	minDistPrefix = "min_dist_"
)

// cellFor resolves static columns and the per-tag amenity columns.
func cellFor(c models.Column) (cell, bool) {
	if ce, ok := cells[c]; ok {
		return ce, true
	}
	name := string(c)
	switch {
	case strings.HasPrefix(name, countPrefix):
		tag := strings.TrimPrefix(name, countPrefix)
		return cell{
			get: func(l *models.Listing) string {
				st, ok := l.Amenities[tag]
				if !ok {
					return ""
				}
				return strconv.Itoa(st.Count)
			},
			set: func(l *models.Listing, v string) error {
				n, err := parseInt(v)
				if err != nil || n == nil {
					return err
				}
				st := amenity(l, tag)
				st.Count = *n
				l.Amenities[tag] = st
				return nil
			},
		}, true
	case strings.HasPrefix(name, minDistPrefix):
		tag := strings.TrimPrefix(name, minDistPrefix)
		return cell{
			get: func(l *models.Listing) string {
				return formatFloat(l.Amenities[tag].MinDistanceM)
			},
			set: func(l *models.Listing, v string) error {
				d, err := parseFloat(v)
				if err != nil || d == nil {
					return err
				}
				st := amenity(l, tag)
				st.MinDistanceM = d
				l.Amenities[tag] = st
				return nil
			},
		}, true
	}
	return cell{}, false
}

func amenity(l *models.Listing, tag string) models.AmenityStat {
	if l.Amenities == nil {
		l.Amenities = make(map[string]models.AmenityStat)
	}
	return l.Amenities[tag]
}

// Header orders the columns of schema for output: scalar fields first, then
// band columns, then the remaining dynamic columns sorted by name.
func Header(schema models.ColumnSet) []models.Column {
	var out []models.Column
	seen := models.NewColumnSet(models.ColAmenities)
	add := func(c models.Column) {
		if schema.Has(c) && !seen.Has(c) {
			out = append(out, c)
			seen.Add(c)
		}
	}

	for _, c := range scalarOrder {
		add(c)
	}
	for _, c := range models.IsochroneColumns() {
		add(c)
	}
	for _, c := range models.SchoolColumns() {
		add(c)
	}

	var rest []models.Column
	for c := range schema {
		if !seen.Has(c) && c != models.ColSuburbLag {
			rest = append(rest, c)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	out = append(out, rest...)
	add(models.ColSuburbLag)
	return out
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatPoint(p *orb.Point) string {
	if p == nil {
		return ""
	}
	return wkt.MarshalString(*p)
}

// parseInt accepts integral floats such as "3.0" as written by dataframe tools.
func parseInt(v string) (*int, error) {
	v = strings.TrimSpace(v)
	if isNull(v) {
		return nil, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return &n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		return nil, fmt.Errorf("invalid integer %q", v)
	}
	n := int(f)
	return &n, nil
}

func parseFloat(v string) (*float64, error) {
	v = strings.TrimSpace(v)
	if isNull(v) {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", v)
	}
	return &f, nil
}

func parsePoint(v string) (*orb.Point, error) {
	v = strings.TrimSpace(v)
	if isNull(v) {
		return nil, nil
	}
	p, err := wkt.UnmarshalPoint(v)
	if err != nil {
		return nil, fmt.Errorf("invalid point %q: %w", v, err)
	}
	return &p, nil
}

func isNull(v string) bool {
	switch strings.ToLower(v) {
	case "", "nan", "none", "null", "n/a":
		return true
	}
	return false
}
