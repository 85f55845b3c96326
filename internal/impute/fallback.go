package impute

import (
	"context"

	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// Chains lists, per target band, the bands whose school block may stand in
// for it, in order of preference.
type Chains map[models.Band][]models.Band

var (
	walk5   = models.Band{Mode: models.Walking, Minutes: 5}
	walk10  = models.Band{Mode: models.Walking, Minutes: 10}
	walk15  = models.Band{Mode: models.Walking, Minutes: 15}
	drive5  = models.Band{Mode: models.Driving, Minutes: 5}
	drive10 = models.Band{Mode: models.Driving, Minutes: 10}
	drive15 = models.Band{Mode: models.Driving, Minutes: 15}
)

// DefaultChains widens walking bands first, then moves to driving bands.
func DefaultChains() Chains {
	return Chains{
		walk5:   {walk10, walk15, drive5, drive10, drive15},
		walk10:  {walk15, drive5, drive10, drive15},
		walk15:  {drive5, drive10, drive15},
		drive5:  {drive10, drive15},
		drive10: {drive15},
	}
}

// FallbackImputer fills an empty best-school block from the first complete
// block in the band's chain. Candidates are read from the row as it was
// before the pass, so a filled block never feeds another target.
type FallbackImputer struct {
	chains Chains
	logger *logrus.Logger
}

func NewFallbackImputer(chains Chains, logger *logrus.Logger) *FallbackImputer {
	if chains == nil {
		chains = DefaultChains()
	}
	return &FallbackImputer{chains: chains, logger: logger}
}

func (f *FallbackImputer) Name() string { return "impute_school_fallback" }

func (f *FallbackImputer) Requires() []models.Column { return models.SchoolColumns() }

func (f *FallbackImputer) Produces() []models.Column { return nil }

func (f *FallbackImputer) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	filled := make(map[string]int)
	for _, l := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for target, from := range f.FillRow(l) {
			filled[target.String()+"<-"+from.String()]++
		}
	}
	if len(filled) > 0 {
		fields := logrus.Fields{}
		for k, v := range filled {
			fields[k] = v
		}
		f.logger.WithFields(fields).Info("Filled school blocks from fallback bands")
	}
	return rows, nil
}

// FillRow applies the chains to one listing and returns the source band used
// for each filled target.
func (f *FallbackImputer) FillRow(l *models.Listing) map[models.Band]models.Band {
	snapshot := l.Schools
	used := make(map[models.Band]models.Band)

	for _, target := range models.Bands {
		ti := target.Index()
		if !snapshot[ti].Empty() {
			continue
		}
		for _, candidate := range f.chains[target] {
			ci := candidate.Index()
			if ci < 0 || !snapshot[ci].Complete() {
				continue
			}
			l.Schools[ti] = snapshot[ci]
			used[target] = candidate
			break
		}
	}
	return used
}
