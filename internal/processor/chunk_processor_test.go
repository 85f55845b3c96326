package processor

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rentfeatures/config"
	"rentfeatures/internal/database"
	"rentfeatures/internal/models"
	"rentfeatures/internal/pipeline"
	"rentfeatures/internal/table"
)

// MockCheckpointer is a mock implementation of Checkpointer
type MockCheckpointer struct {
	mock.Mock
}

func (m *MockCheckpointer) GetRun(runID string) (*models.PipelineRun, error) {
	args := m.Called(runID)
	run, _ := args.Get(0).(*models.PipelineRun)
	return run, args.Error(1)
}

func (m *MockCheckpointer) StartRun(run *models.PipelineRun) error {
	return m.Called(run).Error(0)
}

func (m *MockCheckpointer) FinishRun(runID string, status models.RunStatus) error {
	return m.Called(runID, status).Error(0)
}

func (m *MockCheckpointer) CompletedChunks(runID string) (map[int]bool, error) {
	args := m.Called(runID)
	done, _ := args.Get(0).(map[int]bool)
	return done, args.Error(1)
}

func (m *MockCheckpointer) LoadChunk(runID string, chunk int) ([]*models.Listing, error) {
	args := m.Called(runID, chunk)
	rows, _ := args.Get(0).([]*models.Listing)
	return rows, args.Error(1)
}

func (m *MockCheckpointer) SaveChunk(runID string, chunk int, rows []*models.Listing, header []models.Column) error {
	return m.Called(runID, chunk, rows, header).Error(0)
}

// lagStage marks every row it sees so tests can tell computed rows from
// restored ones.
type lagStage struct {
	rows  atomic.Int64
	value float64
	err   error
}

func (s *lagStage) Name() string { return "lag" }

func (s *lagStage) Requires() []models.Column { return []models.Column{models.ColSuburb} }

func (s *lagStage) Produces() []models.Column { return []models.Column{models.ColSuburbLag} }

func (s *lagStage) Apply(ctx context.Context, rows []*models.Listing) ([]*models.Listing, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, l := range rows {
		l.SuburbLag = models.FloatPtr(s.value)
	}
	s.rows.Add(int64(len(rows)))
	return rows, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testConfig(batchSize int) *config.Config {
	cfg := &config.Config{}
	cfg.BatchProcessing.MaxBatchSize = batchSize
	cfg.BatchProcessing.QueueSize = 4
	cfg.BatchProcessing.ProcessorCount = 2
	cfg.BatchProcessing.MaxRetries = 3
	cfg.BatchProcessing.RetryDelay = 0
	return cfg
}

func testPipeline(t *testing.T, stage *lagStage) *pipeline.Pipeline {
	t.Helper()
	source := []models.Column{models.ColPropertyID, models.ColSuburb, models.ColYear, models.ColQuarter, models.ColWeeklyRent}
	pl, err := pipeline.New(quietLogger(), source, stage)
	require.NoError(t, err)
	return pl
}

func suburbRows() []*models.Listing {
	return []*models.Listing{
		{PropertyID: 1, Suburb: "carlton", Year: 2024, Quarter: 1, WeeklyRent: models.FloatPtr(400)},
		{PropertyID: 2, Suburb: "fitzroy", Year: 2024, Quarter: 1, WeeklyRent: models.FloatPtr(500)},
		{PropertyID: 3, Suburb: "carlton", Year: 2024, Quarter: 2, WeeklyRent: models.FloatPtr(450)},
		{PropertyID: 4, Suburb: "richmond", Year: 2023, Quarter: 4, WeeklyRent: models.FloatPtr(600)},
		{PropertyID: 5, Suburb: "fitzroy", Year: 2023, Quarter: 3, WeeklyRent: models.FloatPtr(550)},
		{PropertyID: 6, Suburb: "richmond", Year: 2024, Quarter: 1, WeeklyRent: models.FloatPtr(650)},
	}
}

func ids(rows []*models.Listing) []int64 {
	out := make([]int64, len(rows))
	for i, l := range rows {
		out[i] = l.PropertyID
	}
	return out
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name     string
		rows     []*models.Listing
		size     int
		expected [][]int64
	}{
		{
			name:     "suburbs kept together",
			rows:     suburbRows(),
			size:     2,
			expected: [][]int64{{1, 3}, {2, 5}, {4, 6}},
		},
		{
			name:     "groups packed up to size",
			rows:     suburbRows(),
			size:     4,
			expected: [][]int64{{1, 3, 2, 5}, {4, 6}},
		},
		{
			name: "property spanning suburbs joins them",
			rows: []*models.Listing{
				{PropertyID: 1, Suburb: "a"},
				{PropertyID: 2, Suburb: "b"},
				{PropertyID: 1, Suburb: "c"},
			},
			size:     2,
			expected: [][]int64{{1, 1}, {2}},
		},
		{
			name: "oversized suburb gets its own chunk",
			rows: []*models.Listing{
				{PropertyID: 1, Suburb: "a"},
				{PropertyID: 2, Suburb: "b"},
				{PropertyID: 3, Suburb: "b"},
				{PropertyID: 4, Suburb: "b"},
				{PropertyID: 5, Suburb: "c"},
			},
			size:     2,
			expected: [][]int64{{1}, {2, 3, 4}, {5}},
		},
		{
			name:     "non-positive size is one chunk",
			rows:     suburbRows(),
			size:     0,
			expected: [][]int64{{1, 3, 2, 5, 4, 6}},
		},
		{
			name:     "empty",
			rows:     nil,
			size:     2,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitChunks(tt.rows, tt.size)
			var got [][]int64
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				got = append(got, ids(c.Rows))
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMerge(t *testing.T) {
	rows := suburbRows()
	merged := Merge([][]*models.Listing{rows[2:4], nil, rows[:2]})
	assert.Equal(t, []int64{3, 4, 1, 2}, ids(merged))
}

func TestChunkProcessor_RetriesCheckpoint(t *testing.T) {
	store := &MockCheckpointer{}
	store.On("GetRun", "run-1").Return(nil, database.ErrRunNotFound)
	store.On("StartRun", mock.Anything).Return(nil)
	store.On("CompletedChunks", "run-1").Return(map[int]bool{}, nil)
	store.On("SaveChunk", "run-1", 0, mock.Anything, mock.Anything).Return(errors.New("database is locked")).Twice()
	store.On("SaveChunk", "run-1", 0, mock.Anything, mock.Anything).Return(nil)
	store.On("FinishRun", "run-1", models.RunStatusCompleted).Return(nil)

	stage := &lagStage{value: 1}
	p := NewChunkProcessor(store, testConfig(10), quietLogger())
	res, err := p.Run(context.Background(), "run-1", testPipeline(t, stage), suburbRows())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Chunks)
	assert.Len(t, res.Rows, 6)
	assert.Contains(t, res.Header, models.ColSuburbLag)
	store.AssertNumberOfCalls(t, "SaveChunk", 3)
	store.AssertExpectations(t)
}

func TestChunkProcessor_CheckpointGivesUp(t *testing.T) {
	store := &MockCheckpointer{}
	store.On("GetRun", "run-1").Return(nil, database.ErrRunNotFound)
	store.On("StartRun", mock.Anything).Return(nil)
	store.On("CompletedChunks", "run-1").Return(map[int]bool{}, nil)
	store.On("SaveChunk", "run-1", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	store.On("FinishRun", "run-1", models.RunStatusFailed).Return(nil)

	cfg := testConfig(10)
	cfg.BatchProcessing.MaxRetries = 2
	p := NewChunkProcessor(store, cfg, quietLogger())
	_, err := p.Run(context.Background(), "run-1", testPipeline(t, &lagStage{}), suburbRows())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to checkpoint chunk 0 after 3 attempts")
	store.AssertNumberOfCalls(t, "SaveChunk", 3)
	store.AssertCalled(t, "FinishRun", "run-1", models.RunStatusFailed)
}

func TestChunkProcessor_StageFailure(t *testing.T) {
	store := &MockCheckpointer{}
	store.On("GetRun", "run-1").Return(nil, database.ErrRunNotFound)
	store.On("StartRun", mock.Anything).Return(nil)
	store.On("CompletedChunks", "run-1").Return(map[int]bool{}, nil)
	store.On("FinishRun", "run-1", models.RunStatusFailed).Return(nil)

	boom := errors.New("boom")
	p := NewChunkProcessor(store, testConfig(2), quietLogger())
	_, err := p.Run(context.Background(), "run-1", testPipeline(t, &lagStage{err: boom}), suburbRows())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	store.AssertNotCalled(t, "SaveChunk", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChunkProcessor_RejectsMismatchedResume(t *testing.T) {
	store := &MockCheckpointer{}
	store.On("GetRun", "run-1").Return(&models.PipelineRun{ID: "run-1", Chunks: 7, Rows: 70}, nil)

	p := NewChunkProcessor(store, testConfig(2), quietLogger())
	_, err := p.Run(context.Background(), "run-1", testPipeline(t, &lagStage{}), suburbRows())
	assert.ErrorIs(t, err, ErrRunMismatch)
	store.AssertNotCalled(t, "StartRun", mock.Anything)
}

func setupStore(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.NewStore(filepath.Join(t.TempDir(), "checkpoints.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func TestChunkProcessor_CheckpointsAndResumes(t *testing.T) {
	store := setupStore(t)
	cfg := testConfig(2)

	first := &lagStage{value: 1}
	p := NewChunkProcessor(store, cfg, quietLogger())
	res, err := p.Run(context.Background(), "run-1", testPipeline(t, first), suburbRows())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 0, res.Resumed)
	assert.Equal(t, []int64{1, 3, 2, 5, 4, 6}, ids(res.Rows))
	assert.Equal(t, int64(6), first.rows.Load())
	for _, l := range res.Rows {
		assert.Equal(t, 1.0, *l.SuburbLag)
	}

	done, err := store.CompletedChunks("run-1")
	require.NoError(t, err)
	assert.Len(t, done, 3)
	run, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	// every chunk is restored from the store on resume
	second := &lagStage{value: 2}
	res, err = p.Run(context.Background(), "run-1", testPipeline(t, second), suburbRows())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Resumed)
	assert.Equal(t, int64(0), second.rows.Load())
	assert.Equal(t, []int64{1, 3, 2, 5, 4, 6}, ids(res.Rows))
	for _, l := range res.Rows {
		assert.Equal(t, 1.0, *l.SuburbLag)
	}
}

func TestChunkProcessor_ResumesPartialRun(t *testing.T) {
	store := setupStore(t)
	cfg := testConfig(2)
	p := NewChunkProcessor(store, cfg, quietLogger())
	stage := &lagStage{value: 1}
	pl := testPipeline(t, stage)

	// a run that stopped after checkpointing chunk 1
	rows := suburbRows()
	chunks := SplitChunks(rows, cfg.BatchProcessing.MaxBatchSize)
	header := table.Header(pl.Schema())
	require.NoError(t, store.StartRun(&models.PipelineRun{
		ID: "run-2", Chunks: len(chunks), Rows: len(rows), Columns: joinColumns(header),
	}))
	restored := make([]*models.Listing, 0, len(chunks[1].Rows))
	for _, l := range chunks[1].Rows {
		c := l.Clone()
		c.SuburbLag = models.FloatPtr(9)
		restored = append(restored, c)
	}
	require.NoError(t, store.SaveChunk("run-2", 1, restored, header))
	require.NoError(t, store.FinishRun("run-2", models.RunStatusFailed))

	res, err := p.Run(context.Background(), "run-2", pl, suburbRows())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resumed)
	assert.Equal(t, int64(4), stage.rows.Load())

	lags := map[int64]float64{}
	for _, l := range res.Rows {
		lags[l.PropertyID] = *l.SuburbLag
	}
	assert.Equal(t, map[int64]float64{1: 1, 3: 1, 2: 9, 5: 9, 4: 1, 6: 1}, lags)
}
