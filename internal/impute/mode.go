package impute

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
	"rentfeatures/internal/parser"
)

var intFields = map[models.Column]func(l *models.Listing) **int{
	models.ColBedrooms:  func(l *models.Listing) **int { return &l.Bedrooms },
	models.ColBathrooms: func(l *models.Listing) **int { return &l.Bathrooms },
	models.ColCarSpaces: func(l *models.Listing) **int { return &l.CarSpaces },
	models.ColLandArea:  func(l *models.Listing) **int { return &l.LandArea },
}

// DefaultModeColumns are filled by grouped mode imputation.
var DefaultModeColumns = []models.Column{models.ColBedrooms, models.ColBathrooms, models.ColCarSpaces}

// ModeImputer fills integer columns with the mode of the listing's property
// type, or the global mode when the type has no observations. Types are
// compared after parser.NormalizePropertyType.
type ModeImputer struct {
	columns []models.Column
	logger  *logrus.Logger
}

func NewModeImputer(columns []models.Column, logger *logrus.Logger) (*ModeImputer, error) {
	for _, c := range columns {
		if _, ok := intFields[c]; !ok {
			return nil, fmt.Errorf("column %q does not support mode imputation", c)
		}
	}
	return &ModeImputer{columns: columns, logger: logger}, nil
}

func (m *ModeImputer) Name() string { return "impute_mode" }

func (m *ModeImputer) Requires() []models.Column {
	return append([]models.Column{models.ColPropertyType}, m.columns...)
}

func (m *ModeImputer) Produces() []models.Column { return nil }

func (m *ModeImputer) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	for _, col := range m.columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		field := intFields[col]

		global := newCounter()
		byType := make(map[string]*counter)
		for _, l := range rows {
			v := *field(l)
			if v == nil {
				continue
			}
			global.add(*v)
			key := parser.NormalizePropertyType(l.PropertyType)
			c, ok := byType[key]
			if !ok {
				c = newCounter()
				byType[key] = c
			}
			c.add(*v)
		}

		globalMode, hasGlobal := global.mode()
		filled := make(map[string]int)
		for _, l := range rows {
			ptr := field(l)
			if *ptr != nil {
				continue
			}
			key := parser.NormalizePropertyType(l.PropertyType)
			fill, ok := globalMode, hasGlobal
			if c, found := byType[key]; found {
				fill, ok = c.mode()
			}
			if !ok {
				continue
			}
			v := fill
			*ptr = &v
			filled[key]++
		}

		for propertyType, n := range filled {
			m.logger.WithFields(logrus.Fields{
				"column":        col,
				"property_type": propertyType,
				"filled":        n,
			}).Info("Imputed by property type mode")
		}
	}
	return rows, nil
}

type counter struct {
	counts map[int]int
}

func newCounter() *counter {
	return &counter{counts: make(map[int]int)}
}

func (c *counter) add(v int) {
	c.counts[v]++
}

// mode returns the most frequent value; ties go to the smallest value.
func (c *counter) mode() (int, bool) {
	best, bestCount := 0, 0
	for v, n := range c.counts {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best, bestCount > 0
}
