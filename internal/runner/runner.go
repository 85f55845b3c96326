package runner

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"rentfeatures/config"
	"rentfeatures/internal/geometry"
	"rentfeatures/internal/impute"
	"rentfeatures/internal/models"
	"rentfeatures/internal/parser"
	"rentfeatures/internal/pipeline"
	"rentfeatures/internal/processor"
	"rentfeatures/internal/reconcile"
	"rentfeatures/internal/sampler"
	"rentfeatures/internal/table"
)

// StageGeospatial names the boundary after the chunked geospatial stages.
const StageGeospatial = "geospatial"

// References are the read-only datasets shared by every chunk.
type References struct {
	Schools   []*models.School
	Amenities []*models.Amenity
	// Matrix is the suburb adjacency matrix. Nil skips the spatial lag.
	Matrix *geometry.Matrix
}

// Inputs names the files of a full run. Only Live and Output are required.
type Inputs struct {
	Live       string
	Historical string
	Schools    string
	Ranks      string
	Amenities  string
	Matrix     string
	Output     string
	// StageDir receives the enriched table of each input when set.
	StageDir string
}

// Output is the enriched feature table of one input.
type Output struct {
	RunID   string
	Rows    []*models.Listing
	Header  []models.Column
	Reports []impute.Report
	Resumed int
}

// Summary counts the rows at each boundary of a full run.
type Summary struct {
	RunID      string
	Live       int
	Historical int
	Sampled    int
	Written    int
	Header     []models.Column
}

// Runner assembles the stages of the feature pipeline and drives them.
type Runner struct {
	config   *config.Config
	features *config.Features
	mapping  *reconcile.Mapping
	store    processor.Checkpointer
	logger   *logrus.Logger
}

func NewRunner(cfg *config.Config, features *config.Features, mapping *reconcile.Mapping, store processor.Checkpointer, logger *logrus.Logger) *Runner {
	return &Runner{
		config:   cfg,
		features: features,
		mapping:  mapping,
		store:    store,
		logger:   logger,
	}
}

// Enrich runs one listing table through parsing, reconciliation and
// imputation, the chunked geospatial stages and finalisation. source lists
// the columns present in rows. When stageDir is set the table at every stage
// boundary is written to <stageDir>/<runID>-<stage>.csv.
func (r *Runner) Enrich(ctx context.Context, runID string, rows []*models.Listing, source []models.Column, refs References, stageDir string) (*Output, error) {
	var writeStage pipeline.StageHook
	if stageDir != "" {
		writeStage = r.stageWriter(stageDir, runID)
	}

	modeImputer, err := impute.NewModeImputer(impute.DefaultModeColumns, r.logger)
	if err != nil {
		return nil, err
	}
	prep, err := pipeline.New(r.logger, source,
		parser.NewStage(r.logger),
		reconcile.NewStage(r.mapping, r.config.Pipeline.MinSuburbObservations, r.logger),
		modeImputer,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build preparation stages: %w", err)
	}
	if writeStage != nil {
		prep.AfterStage(writeStage)
	}
	rows, err = prep.Run(ctx, rows)
	if err != nil {
		return nil, err
	}

	// candidates come from the whole table, not just one chunk
	nearest, err := impute.NewNearestImputer(models.IsochroneColumns(), r.logger)
	if err != nil {
		return nil, err
	}
	pool := impute.NewPoolStage(nearest.Index(rows))

	chains, err := r.features.Chains()
	if err != nil {
		return nil, err
	}
	chunkStages := []pipeline.Stage{
		pool,
		geometry.NewSchoolStage(geometry.NewSchoolIndex(refs.Schools), r.config.Geo.SchoolDecay, r.logger),
	}
	var tags []string
	if refs.Amenities != nil {
		tags = r.features.AmenityTags
		chunkStages = append(chunkStages, geometry.NewAmenityStage(
			geometry.NewAmenityIndex(refs.Amenities), tags, r.config.Geo.AmenityRadius, r.logger))
	}
	chunkStages = append(chunkStages, impute.NewFallbackImputer(chains, r.logger))

	chunked, err := pipeline.New(r.logger, prep.Schema().Columns(), chunkStages...)
	if err != nil {
		return nil, fmt.Errorf("failed to build geospatial stages: %w", err)
	}

	res, err := processor.NewChunkProcessor(r.store, r.config, r.logger).Run(ctx, runID, chunked, rows)
	if err != nil {
		return nil, err
	}
	if writeStage != nil {
		if err := writeStage(StageGeospatial, chunked.Schema(), res.Rows); err != nil {
			return nil, fmt.Errorf("after stage %s: %w", StageGeospatial, err)
		}
	}

	finalStages := []pipeline.Stage{impute.NewFinalizer(r.config.Imputation.NoSchoolScore, tags, r.logger)}
	if refs.Matrix != nil {
		finalStages = append(finalStages, geometry.NewSpatialLagStage(refs.Matrix.RowNormalize(), r.logger))
	}
	final, err := pipeline.New(r.logger, chunked.Schema().Columns(), finalStages...)
	if err != nil {
		return nil, fmt.Errorf("failed to build final stages: %w", err)
	}
	if writeStage != nil {
		final.AfterStage(writeStage)
	}
	out, err := final.Run(ctx, res.Rows)
	if err != nil {
		return nil, err
	}

	return &Output{
		RunID:   runID,
		Rows:    out,
		Header:  table.Header(final.Schema()),
		Reports: pool.Reports(),
		Resumed: res.Resumed,
	}, nil
}

// stageWriter writes the table at a stage boundary with the columns
// available there.
func (r *Runner) stageWriter(dir, runID string) pipeline.StageHook {
	return func(stage string, schema models.ColumnSet, rows []*models.Listing) error {
		path := filepath.Join(dir, runID+"-"+stage+".csv")
		if err := table.WriteListingsFile(path, rows, table.Header(schema)); err != nil {
			return err
		}
		r.logger.WithFields(logrus.Fields{
			"stage": stage,
			"rows":  len(rows),
			"path":  path,
		}).Debug("Stage table written")
		return nil
	}
}

// LoadReferences reads the optional reference datasets named in in.
func LoadReferences(in Inputs, logger *logrus.Logger) (References, error) {
	var refs References

	if in.Schools != "" {
		schools, err := table.ReadSchools(in.Schools, logger)
		if err != nil {
			return refs, err
		}
		ranks := map[string]int{}
		if in.Ranks != "" {
			if ranks, err = table.ReadRanks(in.Ranks); err != nil {
				return refs, err
			}
		}
		geometry.AssignRanks(schools, ranks)
		refs.Schools = schools
	}

	if in.Amenities != "" {
		amenities, err := table.ReadAmenities(in.Amenities, logger)
		if err != nil {
			return refs, err
		}
		refs.Amenities = amenities
	}

	if in.Matrix != "" {
		m, err := table.ReadMatrix(in.Matrix)
		if err != nil {
			return refs, err
		}
		refs.Matrix = m
	}

	logger.WithFields(logrus.Fields{
		"schools":   len(refs.Schools),
		"amenities": len(refs.Amenities),
		"matrix":    refs.Matrix != nil,
	}).Info("Loaded reference data")
	return refs, nil
}

// Run enriches the live table and the optional historical table, combines
// and samples them, trims rent outliers and writes the training table.
func (r *Runner) Run(ctx context.Context, runID string, in Inputs) (*Summary, error) {
	refs, err := LoadReferences(in, r.logger)
	if err != nil {
		return nil, err
	}

	live, err := r.enrichFile(ctx, runID+"-live", in.Live, refs, in.StageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to enrich live listings: %w", err)
	}
	header := live.Header

	var historical []*models.Listing
	if in.Historical != "" {
		hist, err := r.enrichFile(ctx, runID+"-historical", in.Historical, refs, in.StageDir)
		if err != nil {
			return nil, fmt.Errorf("failed to enrich historical listings: %w", err)
		}
		historical = hist.Rows
		header = sharedColumns(live.Header, hist.Header)
	}

	s := sampler.NewSampler(r.config.Pipeline.SampleRatio, r.config.Pipeline.Seed, header, r.logger)
	sampled := s.Sample(live.Rows, historical)
	trimmed := sampler.TrimOutliers(sampled, r.config.Pipeline.OutlierLower, r.config.Pipeline.OutlierUpper, r.logger)

	if err := table.WriteListingsFile(in.Output, trimmed, header); err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:      runID,
		Live:       len(live.Rows),
		Historical: len(historical),
		Sampled:    len(sampled),
		Written:    len(trimmed),
		Header:     header,
	}
	r.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"live":       summary.Live,
		"historical": summary.Historical,
		"sampled":    summary.Sampled,
		"written":    summary.Written,
		"output":     in.Output,
	}).Info("Feature table written")
	return summary, nil
}

func (r *Runner) enrichFile(ctx context.Context, runID, path string, refs References, stageDir string) (*Output, error) {
	rows, cols, err := table.ReadListingsFile(path, r.logger)
	if err != nil {
		return nil, err
	}
	out, err := r.Enrich(ctx, runID, rows, cols, refs, stageDir)
	if err != nil {
		return nil, err
	}

	if stageDir != "" {
		if err := table.WriteListingsFile(filepath.Join(stageDir, runID+".csv"), out.Rows, out.Header); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sharedColumns keeps the columns of a present in b, in a's order.
func sharedColumns(a, b []models.Column) []models.Column {
	inB := models.NewColumnSet(b...)
	var out []models.Column
	for _, c := range a {
		if inB.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
