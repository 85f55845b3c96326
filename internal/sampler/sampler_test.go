package sampler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentfeatures/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestSampleSize(t *testing.T) {
	tests := []struct {
		n        int
		ratio    float64
		expected int
	}{
		{0, 0.5, 0},
		{1, 0.5, 1},
		{1, 0.01, 1},
		{2, 0.1, 1},
		{2, 0.5, 1},
		{3, 0.5, 2},
		{10, 0.5, 5},
		{10, 0.25, 3},
		{7, 1.0, 7},
		{4, 2.0, 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d@%.2f", tt.n, tt.ratio), func(t *testing.T) {
			assert.Equal(t, tt.expected, SampleSize(tt.n, tt.ratio))
		})
	}
}

func stratumRows(propertyType, suburb string, beds, n int, firstID int64) []*models.Listing {
	rows := make([]*models.Listing, n)
	for i := range rows {
		rows[i] = &models.Listing{
			PropertyID:   firstID + int64(i),
			PropertyType: propertyType,
			Suburb:       suburb,
			Bedrooms:     models.IntPtr(beds),
		}
	}
	return rows
}

func TestStratify_PreservesStrata(t *testing.T) {
	var rows []*models.Listing
	rows = append(rows, stratumRows("House", "carlton", 3, 10, 0)...)
	rows = append(rows, stratumRows("House", "carlton", 2, 4, 100)...)
	rows = append(rows, stratumRows("Apartment / Unit / Flat", "carlton", 2, 1, 200)...)
	rows = append(rows, stratumRows("House", "fitzroy", 3, 2, 300)...)

	out := Stratify(rows, 0.5, rand.New(rand.NewSource(42)))

	counts := make(map[string]int)
	for _, l := range out {
		counts[StratumKey(l)]++
	}
	assert.Equal(t, 5, counts["house_carlton_3"])
	assert.Equal(t, 2, counts["house_carlton_2"])
	assert.Equal(t, 1, counts["apartment / unit / flat_carlton_2"], "single-row strata are kept")
	assert.Equal(t, 1, counts["house_fitzroy_3"])
	assert.Len(t, out, 9)

	seen := make(map[int64]bool)
	for _, l := range out {
		assert.False(t, seen[l.PropertyID], "rows are sampled without replacement")
		seen[l.PropertyID] = true
	}
}

func TestStratify_Deterministic(t *testing.T) {
	rows := stratumRows("House", "carlton", 3, 50, 0)

	ids := func(rows []*models.Listing) []int64 {
		out := make([]int64, len(rows))
		for i, l := range rows {
			out[i] = l.PropertyID
		}
		return out
	}

	a := Stratify(rows, 0.3, rand.New(rand.NewSource(42)))
	b := Stratify(rows, 0.3, rand.New(rand.NewSource(42)))
	assert.Equal(t, ids(a), ids(b))
	assert.Len(t, a, 15)
	assert.Equal(t, int64(0), rows[0].PropertyID, "input order is untouched")
}

func TestStratumKey_MissingBedrooms(t *testing.T) {
	assert.Equal(t, "house_carlton_nan", StratumKey(&models.Listing{PropertyType: "House", Suburb: "carlton"}))
}

func TestCombine(t *testing.T) {
	pt := orb.Point{144.96, -37.8}
	live := []*models.Listing{
		{PropertyID: 1, Year: 2024, Quarter: 3, WeeklyRent: models.FloatPtr(450), Suburb: "carlton", Description: "live", Coordinates: &pt},
		{PropertyID: 2, Year: 2024, Quarter: 3, WeeklyRent: models.FloatPtr(500), Suburb: "carlton"},
	}
	historical := []*models.Listing{
		{PropertyID: 1, Year: 2022, Quarter: 1, WeeklyRent: models.FloatPtr(380), Suburb: "carlton"},
		{PropertyID: 3, Year: 2021, Quarter: 2, WeeklyRent: models.FloatPtr(300), Suburb: "fitzroy"},
		{PropertyID: 2, Year: 2025, Quarter: 1, WeeklyRent: models.FloatPtr(520), Suburb: "carlton"},
	}
	live[0].Isochrones[0] = orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}

	out := Combine(live, historical, nil)
	require.Len(t, out, 3)

	byID := make(map[int64]*models.Listing)
	for _, l := range out {
		byID[l.PropertyID] = l
	}
	assert.Equal(t, 450.0, *byID[1].WeeklyRent)
	assert.Equal(t, 520.0, *byID[2].WeeklyRent, "later historical observation wins")
	assert.Equal(t, 300.0, *byID[3].WeeklyRent)

	out = Combine(live, nil, DefaultCommonColumns)
	assert.Equal(t, "", out[0].Description, "columns outside the common set are dropped")
	assert.Nil(t, out[0].Isochrones[0])
	assert.Equal(t, pt, *out[0].Coordinates)
	assert.Equal(t, "live", live[0].Description, "inputs are not modified")
}

func TestProject_DerivedColumns(t *testing.T) {
	src := &models.Listing{PropertyID: 9, Amenities: map[string]models.AmenityStat{"cafe": {Count: 2}, "bar": {Count: 1}}}
	src.SchoolCounts[1] = models.IntPtr(4)
	src.Schools[1].Score = models.FloatPtr(0.4)

	keep := models.NewColumnSet(models.ColPropertyID, models.AmenityCountColumn("cafe"), models.SchoolCountColumn(models.Bands[1]))
	dst := Project(src, keep)

	assert.Equal(t, int64(9), dst.PropertyID)
	assert.Equal(t, 4, *dst.SchoolCounts[1])
	assert.Nil(t, dst.Schools[1].Score)
	assert.Equal(t, map[string]models.AmenityStat{"cafe": {Count: 2}}, dst.Amenities)
}

func TestSampler_Sample(t *testing.T) {
	live := stratumRows("House", "carlton", 3, 10, 0)
	hist := stratumRows("House", "carlton", 3, 10, 5)
	for _, l := range hist {
		l.Year = 2020
	}
	for _, l := range live {
		l.Year = 2024
	}

	s := NewSampler(0.5, 42, nil, quietLogger())
	a := s.Sample(live, hist)
	b := s.Sample(live, hist)
	assert.Len(t, a, 8, "15 unique properties at ratio 0.5")
	assert.Equal(t, a, b, "same seed, same sample")
}

func TestQuantile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, Quantile(values, 0))
	assert.Equal(t, 5.0, Quantile(values, 1))
	assert.Equal(t, 3.0, Quantile(values, 0.5))
	assert.InDelta(t, 1.04, Quantile(values, 0.01), 1e-12)
	assert.InDelta(t, 4.96, Quantile(values, 0.99), 1e-12)
}

func TestTrimOutliers(t *testing.T) {
	var rows []*models.Listing
	for i := 1; i <= 100; i++ {
		rows = append(rows, &models.Listing{PropertyID: int64(i), WeeklyRent: models.FloatPtr(float64(i))})
	}
	rows = append(rows, &models.Listing{PropertyID: 1000})

	out := TrimOutliers(rows, 0.01, 0.99, quietLogger())
	// thresholds are 1.99 and 99.01
	assert.Len(t, out, 98)
	assert.Equal(t, int64(2), out[0].PropertyID)
	assert.Equal(t, int64(99), out[len(out)-1].PropertyID)

	assert.Nil(t, TrimOutliers([]*models.Listing{{PropertyID: 1}}, 0.01, 0.99, quietLogger()))
}
