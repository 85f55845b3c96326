package parser

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentfeatures/internal/models"
)

func TestWeeklyRent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
		err      error
	}{
		{name: "Weekly pw", input: "$450 pw", expected: 450},
		{name: "Weekly uppercase no space", input: "$450PW", expected: 450},
		{name: "Per week spaced", input: "$ 520 Per Week", expected: 520},
		{name: "Thousands separator", input: "$1,200 p.w.", expected: 1200},
		{name: "Slash wk", input: "$380/wk", expected: 380},
		{name: "Decimal weekly", input: "$412.50 weekly", expected: 412.5},
		{name: "Monthly pcm", input: "$1800 pcm", expected: 450},
		{name: "Monthly calendar month", input: "$2,000 per calendar month", expected: 500},
		{name: "Monthly pm", input: "$1600pm", expected: 400},
		{name: "Bare number is weekly", input: "$450", expected: 450},
		{name: "Bare decimal is weekly", input: "450.00", expected: 450},
		{name: "Range takes first number", input: "$450 - $500 pw", expected: 450},
		{name: "Unknown frequency", input: "$450 negotiable", err: ErrUnknownFrequency},
		{name: "No number", input: "Contact agent", err: ErrNoPrice},
		{name: "Empty", input: "", err: ErrNoPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeeklyRent(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestParseFrequency(t *testing.T) {
	assert.Equal(t, Weekly, ParseFrequency("$450 PW"))
	assert.Equal(t, Monthly, ParseFrequency("$1800 P C M"))
	assert.Equal(t, Weekly, ParseFrequency("300"))
	assert.Equal(t, Unknown, ParseFrequency("Deposit taken"))
}

func TestParseFeatures(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Features
		wantErr  bool
	}{
		{
			name:     "Beds baths cars",
			input:    "3, ,2, ,1,",
			expected: Features{Bedrooms: models.IntPtr(3), Bathrooms: models.IntPtr(2), CarSpaces: models.IntPtr(1)},
		},
		{
			name:     "Square metres",
			input:    "3, ,2, ,1, ,450m²,",
			expected: Features{Bedrooms: models.IntPtr(3), Bathrooms: models.IntPtr(2), CarSpaces: models.IntPtr(1), LandArea: models.IntPtr(450)},
		},
		{
			name:     "Square metres with thousands separator",
			input:    "4, ,2, ,2, ,5,030m²,",
			expected: Features{Bedrooms: models.IntPtr(4), Bathrooms: models.IntPtr(2), CarSpaces: models.IntPtr(2), LandArea: models.IntPtr(5030)},
		},
		{
			name:     "Hectares",
			input:    "4, ,2, ,2, ,1.25ha,",
			expected: Features{Bedrooms: models.IntPtr(4), Bathrooms: models.IntPtr(2), CarSpaces: models.IntPtr(2), LandArea: models.IntPtr(12500)},
		},
		{
			name:     "Hectares rounding",
			input:    "1, ,1, ,−, ,0.29ha,",
			expected: Features{Bedrooms: models.IntPtr(1), Bathrooms: models.IntPtr(1), LandArea: models.IntPtr(2900)},
		},
		{
			name:     "Placeholders",
			input:    "−, ,1, ,−,",
			expected: Features{Bathrooms: models.IntPtr(1)},
		},
		{
			name:     "Land area in bedrooms slot",
			input:    "12.51ha,",
			expected: Features{LandArea: models.IntPtr(125100)},
		},
		{
			name:     "Malformed count",
			input:    "three, ,2, ,1,",
			expected: Features{Bathrooms: models.IntPtr(2), CarSpaces: models.IntPtr(1)},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeatures(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseListingURL(t *testing.T) {
	addr, err := ParseListingURL("/4511-33-rose-lane-melbourne-vic-3000-16767655")
	require.NoError(t, err)
	assert.Equal(t, "33 Rose Lane", addr.Street)
	assert.Equal(t, "melbourne", addr.Suburb)
	assert.Equal(t, "vic", addr.State)
	assert.Equal(t, "3000", addr.Postcode)
	assert.Equal(t, "33 Rose Lane, Melbourne, VIC 3000", addr.String())

	addr, err = ParseListingURL("https://www.example.com.au/7-12-smith-street-fitzroy-vic-3065")
	require.NoError(t, err)
	assert.Equal(t, "12 Smith Street", addr.Street)
	assert.Equal(t, "fitzroy", addr.Suburb)
	assert.Equal(t, "3065", addr.Postcode)

	_, err = ParseListingURL("/vic-3000")
	assert.ErrorIs(t, err, ErrShortSlug)
}

func TestCleanStreetAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"unit 1 47 53 wyndham st", "53 Wyndham St"},
		{"apartment 4 level 2 100 collins street", "100 Collins Street"},
		{"12a high st", "12a High St"},
		{"rose lane", "Rose Lane"},
		{"unit 5", "unit 5"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanStreetAddress(tt.input))
		})
	}
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, models.CategoryFlat, CategoryOf("Apartment / Unit / Flat"))
	assert.Equal(t, models.CategoryHouse, CategoryOf("New House & Land"))
	assert.Equal(t, models.CategoryHouse, CategoryOf("Townhouse"))
	assert.Equal(t, models.CategoryFlat, CategoryOf("New Apartments / Off the Plan"))
	assert.Equal(t, models.CategoryUnknown, CategoryOf("Car Space"))
}

func TestStage_Apply(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	stage := NewStage(logger)

	rows := []*models.Listing{
		{PropertyID: 1, RentalPrice: "$450 pw", PropertyType: "House", PropertyFeatures: "3, ,2, ,1,", URL: "/3-12-smith-street-fitzroy-vic-3065-999"},
		{PropertyID: 2, RentalPrice: "Contact agent", PropertyType: "House"},
		{PropertyID: 3, RentalPrice: "$2000 pcm", PropertyType: "Studio", Suburb: "Carlton", PropertyFeatures: "bad, ,1, ,−,"},
	}

	out, err := stage.Apply(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, int64(1), out[0].PropertyID)
	assert.Equal(t, 450.0, *out[0].WeeklyRent)
	assert.Equal(t, models.CategoryHouse, out[0].Category)
	assert.Equal(t, 3, *out[0].Bedrooms)
	assert.Equal(t, "fitzroy", out[0].Suburb)
	assert.Equal(t, "3065", out[0].Postcode)
	assert.Equal(t, "12 Smith Street, Fitzroy, VIC 3065", out[0].Address)

	assert.Equal(t, int64(3), out[1].PropertyID)
	assert.Equal(t, 500.0, *out[1].WeeklyRent)
	assert.Equal(t, models.CategoryFlat, out[1].Category)
	assert.Nil(t, out[1].Bedrooms)
	assert.Equal(t, 1, *out[1].Bathrooms)
	assert.Equal(t, "Carlton", out[1].Suburb)
}
