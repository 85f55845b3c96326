package sampler

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
	"rentfeatures/internal/reconcile"
)

// DefaultCommonColumns are the columns kept when live and historical tables
// are combined.
var DefaultCommonColumns = []models.Column{
	models.ColPropertyID, models.ColRentalPrice, models.ColWeeklyRent,
	models.ColBedrooms, models.ColBathrooms, models.ColCarSpaces,
	models.ColPropertyType, models.ColCategory, models.ColSuburb,
	models.ColYear, models.ColQuarter, models.ColCoordinates,
}

type Sampler struct {
	ratio   float64
	seed    int64
	columns []models.Column
	logger  *logrus.Logger
}

func NewSampler(ratio float64, seed int64, columns []models.Column, logger *logrus.Logger) *Sampler {
	return &Sampler{ratio: ratio, seed: seed, columns: columns, logger: logger}
}

// Sample combines both vintages and draws a stratified sample with a
// generator seeded for this call only.
func (s *Sampler) Sample(live, historical []*models.Listing) []*models.Listing {
	combined := Combine(live, historical, s.columns)
	rng := rand.New(rand.NewSource(s.seed))
	sampled := Stratify(combined, s.ratio, rng)

	s.logger.WithFields(logrus.Fields{
		"live":       len(live),
		"historical": len(historical),
		"combined":   len(combined),
		"sampled":    len(sampled),
		"ratio":      s.ratio,
	}).Info("Combined and sampled listings")
	return sampled
}

// Combine restricts both tables to columns, concatenates them and keeps the
// latest observation of each property. Nil columns selects
// DefaultCommonColumns.
func Combine(live, historical []*models.Listing, columns []models.Column) []*models.Listing {
	if len(columns) == 0 {
		columns = DefaultCommonColumns
	}
	keep := models.NewColumnSet(columns...)
	all := make([]*models.Listing, 0, len(live)+len(historical))
	for _, l := range live {
		all = append(all, Project(l, keep))
	}
	for _, l := range historical {
		all = append(all, Project(l, keep))
	}
	return reconcile.Dedup(all)
}

// StratumKey groups rows by property type, suburb and bedrooms.
func StratumKey(l *models.Listing) string {
	beds := "nan"
	if l.Bedrooms != nil {
		beds = strconv.Itoa(*l.Bedrooms)
	}
	return strings.ToLower(l.PropertyType) + "_" + l.Suburb + "_" + beds
}

// Stratify shuffles rows and keeps a ratio of every stratum. A stratum of one
// row is kept whole; larger strata keep max(1, round(N·ratio)) rows. Strata
// are emitted in key order.
func Stratify(rows []*models.Listing, ratio float64, rng *rand.Rand) []*models.Listing {
	shuffled := make([]*models.Listing, len(rows))
	copy(shuffled, rows)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	strata := make(map[string][]*models.Listing)
	for _, l := range shuffled {
		k := StratumKey(l)
		strata[k] = append(strata[k], l)
	}
	keys := make([]string, 0, len(strata))
	for k := range strata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*models.Listing, 0, int(float64(len(rows))*ratio)+len(keys))
	for _, k := range keys {
		group := strata[k]
		out = append(out, group[:SampleSize(len(group), ratio)]...)
	}
	return out
}

// SampleSize is the number of rows kept from a stratum of n rows.
func SampleSize(n int, ratio float64) int {
	if n <= 1 {
		return n
	}
	size := int(math.Round(float64(n) * ratio))
	if size < 1 {
		size = 1
	}
	if size > n {
		size = n
	}
	return size
}

// Quantile returns the q-quantile of sorted values with linear interpolation.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// TrimOutliers keeps rows whose weekly rent lies within the lower and upper
// quantiles, inclusive. Rows without a weekly rent are dropped.
func TrimOutliers(rows []*models.Listing, lower, upper float64, logger *logrus.Logger) []*models.Listing {
	values := make([]float64, 0, len(rows))
	for _, l := range rows {
		if l.WeeklyRent != nil {
			values = append(values, *l.WeeklyRent)
		}
	}
	if len(values) == 0 {
		return nil
	}
	sort.Float64s(values)
	lo, hi := Quantile(values, lower), Quantile(values, upper)

	out := make([]*models.Listing, 0, len(rows))
	for _, l := range rows {
		if l.WeeklyRent != nil && *l.WeeklyRent >= lo && *l.WeeklyRent <= hi {
			out = append(out, l)
		}
	}

	logger.WithFields(logrus.Fields{
		"lower_threshold": lo,
		"upper_threshold": hi,
		"removed":         len(rows) - len(out),
	}).Info("Removed weekly rent outliers")
	return out
}
