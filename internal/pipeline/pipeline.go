package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

var ErrMissingColumn = errors.New("required column not produced upstream")

// Stage is one transformation over a batch of listings. Every stage declares
// the columns it reads and the columns it adds so a pipeline can be checked
// before any row is processed.
type Stage interface {
	Name() string
	Requires() []models.Column
	Produces() []models.Column
	Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error)
}

// StageHook observes the rows after a stage together with the columns
// available at that boundary. An error stops the run.
type StageHook func(stage string, schema models.ColumnSet, rows []*models.Listing) error

// Pipeline runs stages in order over one batch.
type Pipeline struct {
	stages []Stage
	source []models.Column
	schema models.ColumnSet
	hooks  []StageHook
	logger *logrus.Logger
}

// New validates that each stage only requires columns available from source
// or produced by an earlier stage.
func New(logger *logrus.Logger, source []models.Column, stages ...Stage) (*Pipeline, error) {
	schema := models.NewColumnSet(source...)
	if err := Validate(schema, stages...); err != nil {
		return nil, err
	}
	return &Pipeline{stages: stages, source: source, schema: schema, logger: logger}, nil
}

// Validate checks stages against the given schema, extending it with what
// each stage produces.
func Validate(schema models.ColumnSet, stages ...Stage) error {
	for _, s := range stages {
		if missing := schema.Missing(s.Requires()); len(missing) > 0 {
			return fmt.Errorf("stage %s: %w: %v", s.Name(), ErrMissingColumn, missing)
		}
		schema.Add(s.Produces()...)
	}
	return nil
}

// Schema returns the columns available after the last stage.
func (p *Pipeline) Schema() models.ColumnSet {
	out := models.NewColumnSet()
	for c := range p.schema {
		out.Add(c)
	}
	return out
}

// AfterStage registers a hook called after every stage. Hooks are not safe to
// add while the pipeline runs.
func (p *Pipeline) AfterStage(hook StageHook) {
	p.hooks = append(p.hooks, hook)
}

// Run applies every stage in order.
func (p *Pipeline) Run(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	schema := models.NewColumnSet(p.source...)
	for _, s := range p.stages {
		start := time.Now()
		in := len(rows)

		out, err := s.Apply(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("stage %s failed: %w", s.Name(), err)
		}
		rows = out

		p.logger.WithFields(logrus.Fields{
			"stage":    s.Name(),
			"rows_in":  in,
			"rows_out": len(rows),
			"duration": time.Since(start).String(),
		}).Info("Stage completed")

		schema.Add(s.Produces()...)
		for _, hook := range p.hooks {
			if err := hook(s.Name(), schema, rows); err != nil {
				return nil, fmt.Errorf("after stage %s: %w", s.Name(), err)
			}
		}
	}
	return rows, nil
}
