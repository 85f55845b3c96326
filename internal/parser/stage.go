package parser

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// Stage turns raw listing fields into typed scalars and drops listings whose
// price has no recognised frequency.
type Stage struct {
	logger *logrus.Logger
}

func NewStage(logger *logrus.Logger) *Stage {
	return &Stage{logger: logger}
}

func (s *Stage) Name() string { return "parse" }

func (s *Stage) Requires() []models.Column {
	return []models.Column{
		models.ColPropertyID, models.ColRentalPrice, models.ColPropertyFeatures,
		models.ColPropertyType, models.ColURL, models.ColSuburb,
	}
}

func (s *Stage) Produces() []models.Column {
	return []models.Column{
		models.ColWeeklyRent, models.ColCategory, models.ColBedrooms, models.ColBathrooms,
		models.ColCarSpaces, models.ColLandArea, models.ColAddress, models.ColState, models.ColPostcode,
	}
}

func (s *Stage) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	out := make([]*models.Listing, 0, len(rows))
	dropped := 0

	for _, l := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := s.logger.WithField("property_id", l.PropertyID)

		rent, err := WeeklyRent(l.RentalPrice)
		if err != nil {
			log.WithError(err).WithField("rental_price", l.RentalPrice).Debug("Dropping listing without weekly rent")
			dropped++
			continue
		}
		l.WeeklyRent = &rent
		l.Category = CategoryOf(l.PropertyType)

		if l.PropertyFeatures != "" {
			f, err := ParseFeatures(l.PropertyFeatures)
			if err != nil {
				log.WithError(err).WithField("property_features", l.PropertyFeatures).Warn("Malformed feature string")
			}
			l.Bedrooms, l.Bathrooms, l.CarSpaces, l.LandArea = f.Bedrooms, f.Bathrooms, f.CarSpaces, f.LandArea
		}

		if l.URL != "" {
			addr, err := ParseListingURL(l.URL)
			switch {
			case errors.Is(err, ErrShortSlug):
				log.WithField("url", l.URL).Debug("Listing URL carries no address")
			case err != nil:
				log.WithError(err).Warn("Failed to parse listing URL")
			default:
				l.Address = addr.String()
				l.State = addr.State
				l.Postcode = addr.Postcode
				if l.Suburb == "" {
					l.Suburb = addr.Suburb
				}
			}
		}

		out = append(out, l)
	}

	s.logger.WithFields(logrus.Fields{
		"parsed":  len(out),
		"dropped": dropped,
	}).Info("Parsed listing fields")
	return out, nil
}
