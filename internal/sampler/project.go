package sampler

import (
	"rentfeatures/internal/models"
)

var scalarCopiers = map[models.Column]func(dst, src *models.Listing){
	models.ColPropertyID:       func(d, s *models.Listing) { d.PropertyID = s.PropertyID },
	models.ColRentalPrice:      func(d, s *models.Listing) { d.RentalPrice = s.RentalPrice },
	models.ColWeeklyRent:       func(d, s *models.Listing) { d.WeeklyRent = s.WeeklyRent },
	models.ColPropertyType:     func(d, s *models.Listing) { d.PropertyType = s.PropertyType },
	models.ColCategory:         func(d, s *models.Listing) { d.Category = s.Category },
	models.ColPropertyFeatures: func(d, s *models.Listing) { d.PropertyFeatures = s.PropertyFeatures },
	models.ColBedrooms:         func(d, s *models.Listing) { d.Bedrooms = s.Bedrooms },
	models.ColBathrooms:        func(d, s *models.Listing) { d.Bathrooms = s.Bathrooms },
	models.ColCarSpaces:        func(d, s *models.Listing) { d.CarSpaces = s.CarSpaces },
	models.ColLandArea:         func(d, s *models.Listing) { d.LandArea = s.LandArea },
	models.ColURL:              func(d, s *models.Listing) { d.URL = s.URL },
	models.ColAddress:          func(d, s *models.Listing) { d.Address = s.Address },
	models.ColSuburb:           func(d, s *models.Listing) { d.Suburb = s.Suburb },
	models.ColState:            func(d, s *models.Listing) { d.State = s.State },
	models.ColPostcode:         func(d, s *models.Listing) { d.Postcode = s.Postcode },
	models.ColCoordinates:      func(d, s *models.Listing) { d.Coordinates = s.Coordinates },
	models.ColYear:             func(d, s *models.Listing) { d.Year = s.Year },
	models.ColQuarter:          func(d, s *models.Listing) { d.Quarter = s.Quarter },
	models.ColDescription:      func(d, s *models.Listing) { d.Description = s.Description },
	models.ColAgencyName:       func(d, s *models.Listing) { d.AgencyName = s.AgencyName },
	models.ColSuburbLag:        func(d, s *models.Listing) { d.SuburbLag = s.SuburbLag },
}

// Project returns a new listing holding only the columns in keep.
func Project(src *models.Listing, keep models.ColumnSet) *models.Listing {
	dst := &models.Listing{}
	for c := range keep {
		if cp, ok := scalarCopiers[c]; ok {
			cp(dst, src)
		}
	}

	for i, b := range models.Bands {
		if keep.Has(models.IsochroneColumn(b)) {
			dst.Isochrones[i] = src.Isochrones[i]
		}
		if keep.Has(models.SchoolNameColumn(b)) {
			dst.Schools[i].Name = src.Schools[i].Name
		}
		if keep.Has(models.SchoolLocationColumn(b)) {
			dst.Schools[i].Location = src.Schools[i].Location
		}
		if keep.Has(models.SchoolScoreColumn(b)) {
			dst.Schools[i].Score = src.Schools[i].Score
		}
		if keep.Has(models.SchoolDistanceColumn(b)) {
			dst.Schools[i].DistanceKm = src.Schools[i].DistanceKm
		}
		if keep.Has(models.SchoolCountColumn(b)) {
			dst.SchoolCounts[i] = src.SchoolCounts[i]
		}
	}

	for tag, st := range src.Amenities {
		if keep.Has(models.AmenityCountColumn(tag)) || keep.Has(models.ColAmenities) {
			if dst.Amenities == nil {
				dst.Amenities = make(map[string]models.AmenityStat)
			}
			dst.Amenities[tag] = st
		}
	}
	return dst
}
