package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rentfeatures/config"
	"rentfeatures/internal/database"
	"rentfeatures/internal/models"
	"rentfeatures/internal/pipeline"
	"rentfeatures/internal/queue"
	"rentfeatures/internal/table"
)

var ErrRunMismatch = errors.New("run was started with a different input")

// Checkpointer persists the results of each chunk of a run.
type Checkpointer interface {
	GetRun(runID string) (*models.PipelineRun, error)
	StartRun(run *models.PipelineRun) error
	FinishRun(runID string, status models.RunStatus) error
	CompletedChunks(runID string) (map[int]bool, error)
	LoadChunk(runID string, chunk int) ([]*models.Listing, error)
	SaveChunk(runID string, chunk int, rows []*models.Listing, header []models.Column) error
}

// Result is the merged output of a run.
type Result struct {
	RunID   string
	Rows    []*models.Listing
	Header  []models.Column
	Chunks  int
	Resumed int
}

// ChunkProcessor runs a pipeline over suburb-complete chunks with a pool of
// workers and checkpoints every chunk.
type ChunkProcessor struct {
	store  Checkpointer
	config *config.Config
	logger *logrus.Logger
}

// NewChunkProcessor creates a new chunk processor instance
func NewChunkProcessor(store Checkpointer, config *config.Config, logger *logrus.Logger) *ChunkProcessor {
	return &ChunkProcessor{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Run splits rows into chunks and applies pl to each of them. Chunks already
// checkpointed under runID are restored instead of recomputed. The merged
// rows follow chunk order.
func (p *ChunkProcessor) Run(ctx context.Context, runID string, pl *pipeline.Pipeline, rows []*models.Listing) (*Result, error) {
	header := table.Header(pl.Schema())
	chunks := SplitChunks(rows, p.config.BatchProcessing.MaxBatchSize)

	run := &models.PipelineRun{ID: runID, Chunks: len(chunks), Rows: len(rows), Columns: joinColumns(header)}
	if err := p.checkResume(run); err != nil {
		return nil, err
	}
	if err := p.store.StartRun(run); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	done, err := p.store.CompletedChunks(runID)
	if err != nil {
		return nil, err
	}

	log := p.logger.WithField("run_id", runID)
	log.WithFields(logrus.Fields{
		"rows":      len(rows),
		"chunks":    len(chunks),
		"completed": len(done),
		"workers":   p.config.BatchProcessing.ProcessorCount,
	}).Info("Starting chunked run")

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]*models.Listing, len(chunks))
	var mu sync.Mutex
	var errs []error
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		cancel()
	}

	q := queue.NewChunkQueue(p.config.BatchProcessing.QueueSize, p.logger)
	q.Subscribe(func(ctx context.Context, c queue.Chunk) error {
		out, err := p.processChunk(ctx, runID, pl, header, c)
		if err != nil {
			// chunks interrupted by another failure are not reported twice
			if !errors.Is(err, context.Canceled) {
				fail(err)
			}
			return err
		}
		mu.Lock()
		results[c.Index] = out
		mu.Unlock()
		return nil
	})
	q.Start(workCtx, p.config.BatchProcessing.ProcessorCount)

	resumed := 0
	for _, c := range chunks {
		if done[c.Index] {
			restored, err := p.store.LoadChunk(runID, c.Index)
			if err != nil {
				fail(err)
				break
			}
			mu.Lock()
			results[c.Index] = restored
			mu.Unlock()
			resumed++
			continue
		}
		if err := q.PushContext(workCtx, c); err != nil {
			if !errors.Is(err, context.Canceled) {
				fail(err)
			}
			break
		}
	}
	q.Close()
	q.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		for i, r := range results {
			if r == nil && len(chunks[i].Rows) > 0 {
				errs = append(errs, fmt.Errorf("chunk %d was not processed", i))
			}
		}
	}
	if len(errs) > 0 {
		if ferr := p.store.FinishRun(runID, models.RunStatusFailed); ferr != nil {
			log.WithError(ferr).Error("Failed to mark run as failed")
		}
		return nil, fmt.Errorf("failed to process run %s: %w", runID, errors.Join(errs...))
	}

	if err := p.store.FinishRun(runID, models.RunStatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}

	merged := Merge(results)
	log.WithFields(logrus.Fields{
		"rows":    len(merged),
		"resumed": resumed,
	}).Info("Chunked run completed")
	return &Result{RunID: runID, Rows: merged, Header: header, Chunks: len(chunks), Resumed: resumed}, nil
}

// checkResume rejects resuming a run whose chunking no longer matches.
func (p *ChunkProcessor) checkResume(run *models.PipelineRun) error {
	prev, err := p.store.GetRun(run.ID)
	if errors.Is(err, database.ErrRunNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up run: %w", err)
	}
	if prev.Chunks != run.Chunks || prev.Rows != run.Rows || prev.Columns != run.Columns {
		return fmt.Errorf("%w: run %s had %d rows in %d chunks", ErrRunMismatch, run.ID, prev.Rows, prev.Chunks)
	}
	p.logger.WithField("run_id", run.ID).Info("Resuming run")
	return nil
}

// processChunk applies the pipeline to one chunk and checkpoints the result
func (p *ChunkProcessor) processChunk(ctx context.Context, runID string, pl *pipeline.Pipeline, header []models.Column, c queue.Chunk) ([]*models.Listing, error) {
	start := time.Now()
	out, err := pl.Run(ctx, c.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to process chunk %d: %w", c.Index, err)
	}
	if err := p.checkpoint(ctx, runID, c.Index, out, header); err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"chunk":    c.Index,
		"rows":     len(out),
		"duration": time.Since(start).String(),
	}).Info("Successfully processed chunk")
	return out, nil
}

// checkpoint saves a chunk, retrying failed attempts
func (p *ChunkProcessor) checkpoint(ctx context.Context, runID string, chunk int, rows []*models.Listing, header []models.Column) error {
	maxRetries := p.config.BatchProcessing.MaxRetries
	delay := time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying checkpoint of chunk %d, attempt %d of %d", chunk, attempt, maxRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = p.store.SaveChunk(runID, chunk, rows, header)
		if err == nil {
			return nil
		}

		p.logger.Errorf("Checkpoint of chunk %d failed: %v", chunk, err)
	}

	return fmt.Errorf("failed to checkpoint chunk %d after %d attempts: %w", chunk, maxRetries+1, err)
}

func joinColumns(cols []models.Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}
