package impute

import (
	"context"

	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// NoSchoolScore marks a band with no reachable school. It is below any score
// a ranked school can reach.
const NoSchoolScore = 1e-6

// Finalizer replaces the nulls left after imputation with sentinel values.
// A missing distance becomes the largest observed distance plus one.
type Finalizer struct {
	noSchoolScore float64
	amenityTags   []string
	logger        *logrus.Logger
}

func NewFinalizer(noSchoolScore float64, amenityTags []string, logger *logrus.Logger) *Finalizer {
	return &Finalizer{noSchoolScore: noSchoolScore, amenityTags: amenityTags, logger: logger}
}

func (f *Finalizer) Name() string { return "finalize" }

func (f *Finalizer) Requires() []models.Column {
	cols := models.SchoolColumns()
	for _, tag := range f.amenityTags {
		cols = append(cols, models.AmenityCountColumn(tag), models.AmenityDistColumn(tag))
	}
	return cols
}

func (f *Finalizer) Produces() []models.Column { return nil }

func (f *Finalizer) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var schoolMax [models.NumBands]float64
	for _, l := range rows {
		for i := range models.Bands {
			if d := l.Schools[i].DistanceKm; d != nil && *d > schoolMax[i] {
				schoolMax[i] = *d
			}
		}
	}

	amenityMax := make(map[string]float64, len(f.amenityTags))
	for _, l := range rows {
		for _, tag := range f.amenityTags {
			if st, ok := l.Amenities[tag]; ok && st.MinDistanceM != nil && *st.MinDistanceM > amenityMax[tag] {
				amenityMax[tag] = *st.MinDistanceM
			}
		}
	}

	scores, distances, counts := 0, 0, 0
	for _, l := range rows {
		for i := range models.Bands {
			m := &l.Schools[i]
			if m.Score == nil {
				m.Score = models.FloatPtr(f.noSchoolScore)
				scores++
			}
			if m.DistanceKm == nil {
				m.DistanceKm = models.FloatPtr(schoolMax[i] + 1)
				distances++
			}
			if l.SchoolCounts[i] == nil {
				l.SchoolCounts[i] = models.IntPtr(0)
				counts++
			}
		}

		if len(f.amenityTags) > 0 && l.Amenities == nil {
			l.Amenities = make(map[string]models.AmenityStat, len(f.amenityTags))
		}
		for _, tag := range f.amenityTags {
			st := l.Amenities[tag]
			if st.MinDistanceM == nil {
				st.MinDistanceM = models.FloatPtr(amenityMax[tag] + 1)
				distances++
			}
			l.Amenities[tag] = st
		}
	}

	f.logger.WithFields(logrus.Fields{
		"scores":    scores,
		"distances": distances,
		"counts":    counts,
	}).Info("Finalised remaining nulls")
	return rows, nil
}
