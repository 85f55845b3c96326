package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"rentfeatures/internal/models"
	"rentfeatures/internal/table"
)

var ErrRunNotFound = errors.New("pipeline run not found")

// Store checkpoints chunk results of pipeline runs.
type Store struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the handle for transactions.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&models.PipelineRun{}, &models.ChunkRecord{}, &models.ListingRecord{}); err != nil {
		return fmt.Errorf("failed to migrate checkpoint store: %w", err)
	}
	s.logger.Debug("Checkpoint store migrated")
	return nil
}

// StartRun creates the run, or resets its status when resuming.
func (s *Store) StartRun(run *models.PipelineRun) error {
	run.Status = models.RunStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.FinishedAt = nil
	if err := s.db.Save(run).Error; err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) FinishRun(runID string, status models.RunStatus) error {
	now := time.Now()
	res := s.db.Model(&models.PipelineRun{}).Where("id = ?", runID).
		Updates(map[string]interface{}{"status": status, "finished_at": &now})
	if res.Error != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) GetRun(runID string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := s.db.First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &run, nil
}

func (s *Store) ListRuns() ([]models.PipelineRun, error) {
	var runs []models.PipelineRun
	if err := s.db.Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// UpsertListings checkpoints one chunk inside tx. Rows keep their position
// within the chunk so LoadChunk restores the original order.
func UpsertListings(tx *gorm.DB, runID string, chunk int, rows []*models.Listing, header []models.Column) error {
	records := make([]models.ListingRecord, 0, len(rows))
	for i, l := range rows {
		cells, err := table.ToMap(l, header)
		if err != nil {
			return fmt.Errorf("failed to encode listing %d: %w", l.PropertyID, err)
		}
		payload, err := json.Marshal(cells)
		if err != nil {
			return fmt.Errorf("failed to marshal listing %d: %w", l.PropertyID, err)
		}
		records = append(records, models.ListingRecord{
			RunID:      runID,
			PropertyID: l.PropertyID,
			Chunk:      chunk,
			Position:   i,
			Suburb:     l.Suburb,
			Year:       l.Year,
			Quarter:    l.Quarter,
			WeeklyRent: l.WeeklyRent,
			Features:   datatypes.JSON(payload),
		})
	}

	if len(records) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "property_id"}},
			UpdateAll: true,
		}).CreateInBatches(records, 500).Error
		if err != nil {
			return fmt.Errorf("failed to upsert listings: %w", err)
		}
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "chunk"}},
		UpdateAll: true,
	}).Create(&models.ChunkRecord{
		RunID:       runID,
		Chunk:       chunk,
		Rows:        len(rows),
		CompletedAt: time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to mark chunk %d: %w", chunk, err)
	}
	return nil
}

// SaveChunk checkpoints one chunk in its own transaction.
func (s *Store) SaveChunk(runID string, chunk int, rows []*models.Listing, header []models.Column) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return UpsertListings(tx, runID, chunk, rows, header)
	})
}

// CompletedChunks returns the chunks of a run that were checkpointed.
func (s *Store) CompletedChunks(runID string) (map[int]bool, error) {
	var chunks []int
	if err := s.db.Model(&models.ChunkRecord{}).Where("run_id = ?", runID).Pluck("chunk", &chunks).Error; err != nil {
		return nil, fmt.Errorf("failed to list chunks of run %s: %w", runID, err)
	}
	done := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		done[c] = true
	}
	return done, nil
}

// LoadChunk restores the listings of a checkpointed chunk.
func (s *Store) LoadChunk(runID string, chunk int) ([]*models.Listing, error) {
	var records []models.ListingRecord
	err := s.db.Where("run_id = ? AND chunk = ?", runID, chunk).Order("position").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk %d of run %s: %w", chunk, runID, err)
	}

	rows := make([]*models.Listing, 0, len(records))
	for _, r := range records {
		l, err := DecodeRecord(r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, l)
	}
	return rows, nil
}

// DecodeRecord rebuilds a listing from its checkpointed features.
func DecodeRecord(r models.ListingRecord) (*models.Listing, error) {
	var cells map[string]string
	if err := json.Unmarshal(r.Features, &cells); err != nil {
		return nil, fmt.Errorf("failed to unmarshal listing %d: %w", r.PropertyID, err)
	}
	l, err := table.FromMap(cells)
	if err != nil {
		return nil, fmt.Errorf("failed to decode listing %d: %w", r.PropertyID, err)
	}
	return l, nil
}

// ListingQuery filters checkpointed listings.
type ListingQuery struct {
	RunID  string
	Suburb string
	Year   int
	Limit  int
	Offset int
}

// ListListings returns one page of listings and the total matching count.
func (s *Store) ListListings(q ListingQuery) ([]models.ListingRecord, int64, error) {
	filtered := func() *gorm.DB {
		query := s.db.Model(&models.ListingRecord{}).Where("run_id = ?", q.RunID)
		if q.Suburb != "" {
			query = query.Where("suburb = ?", q.Suburb)
		}
		if q.Year > 0 {
			query = query.Where("year = ?", q.Year)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	var records []models.ListingRecord
	page := filtered().Order("chunk").Order("position").Offset(q.Offset)
	if q.Limit > 0 {
		page = page.Limit(q.Limit)
	}
	if err := page.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list listings: %w", err)
	}
	return records, total, nil
}

func (s *Store) RunStats(runID string) (*models.RunStats, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}

	var agg struct {
		Listings      int64
		Suburbs       int64
		AvgWeeklyRent sql.NullFloat64
	}
	err = s.db.Model(&models.ListingRecord{}).Where("run_id = ?", runID).
		Select("COUNT(*) AS listings, COUNT(DISTINCT suburb) AS suburbs, AVG(weekly_rent) AS avg_weekly_rent").
		Scan(&agg).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate run %s: %w", runID, err)
	}

	var years []struct {
		Year  int
		Count int64
	}
	err = s.db.Model(&models.ListingRecord{}).Where("run_id = ?", runID).
		Select("year, COUNT(*) AS count").Group("year").Scan(&years).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count listings by year: %w", err)
	}

	var chunksDone int64
	if err := s.db.Model(&models.ChunkRecord{}).Where("run_id = ?", runID).Count(&chunksDone).Error; err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	stats := &models.RunStats{
		RunID:          runID,
		Status:         run.Status,
		Listings:       agg.Listings,
		Suburbs:        agg.Suburbs,
		AvgWeeklyRent:  agg.AvgWeeklyRent.Float64,
		ListingsByYear: make(map[int]int64, len(years)),
		ChunksDone:     chunksDone,
		ChunksTotal:    run.Chunks,
	}
	for _, y := range years {
		stats.ListingsByYear[y.Year] = y.Count
	}
	return stats, nil
}
