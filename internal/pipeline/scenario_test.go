package pipeline_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentfeatures/internal/models"
	"rentfeatures/internal/parser"
	"rentfeatures/internal/pipeline"
	"rentfeatures/internal/reconcile"
)

func TestParseAndReconcile(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	mapping, err := reconcile.NewMapping(map[string][]string{"south yarra": {"sth yarra"}})
	require.NoError(t, err)

	p, err := pipeline.New(logger, models.RawColumns,
		parser.NewStage(logger),
		reconcile.NewStage(mapping, 0, logger),
	)
	require.NoError(t, err)

	rows := []*models.Listing{
		{PropertyID: 1, RentalPrice: "$450 pw", Suburb: "STH Yarra", PropertyType: "House", Year: 2024, Quarter: 3},
		{PropertyID: 1, RentalPrice: "$1800 pcm", Suburb: "South Yarra", PropertyType: "House", Year: 2023, Quarter: 1},
	}

	out, err := p.Run(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 450.0, *out[0].WeeklyRent)
	assert.Equal(t, "south yarra", out[0].Suburb)
	assert.Equal(t, 2024, out[0].Year)
	assert.Equal(t, models.CategoryHouse, out[0].Category)
}

func TestParseDropsUnknownFrequency(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	p, err := pipeline.New(logger, models.RawColumns, parser.NewStage(logger))
	require.NoError(t, err)

	out, err := p.Run(context.Background(), []*models.Listing{
		{PropertyID: 1, RentalPrice: "Contact agent", Suburb: "carlton"},
		{PropertyID: 2, RentalPrice: "$500", Suburb: "carlton"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].PropertyID)
	assert.Equal(t, 500.0, *out[0].WeeklyRent)
}
