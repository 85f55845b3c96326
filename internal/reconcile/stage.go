package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// Stage canonicalises suburbs, drops small suburbs and removes duplicate
// observations of a property.
type Stage struct {
	mapping         *Mapping
	minObservations int
	logger          *logrus.Logger
}

func NewStage(mapping *Mapping, minObservations int, logger *logrus.Logger) *Stage {
	return &Stage{mapping: mapping, minObservations: minObservations, logger: logger}
}

func (s *Stage) Name() string { return "reconcile" }

func (s *Stage) Requires() []models.Column {
	return []models.Column{models.ColPropertyID, models.ColSuburb, models.ColYear, models.ColQuarter}
}

func (s *Stage) Produces() []models.Column { return nil }

func (s *Stage) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	remapped := 0
	for _, l := range rows {
		c := s.mapping.Canonicalize(l.Suburb)
		if c != normalize(l.Suburb) {
			remapped++
		}
		l.Suburb = c
	}

	filtered := FilterSmallSuburbs(rows, s.minObservations)
	out := Dedup(filtered)

	s.logger.WithFields(logrus.Fields{
		"remapped":        remapped,
		"small_suburb":    len(rows) - len(filtered),
		"duplicates":      len(filtered) - len(out),
		"rows":            len(out),
		"min_observation": s.minObservations,
	}).Info("Reconciled listings")
	return out, nil
}
