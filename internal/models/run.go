package models

import (
	"time"

	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun is one execution of the chunked enrichment pipeline.
type PipelineRun struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	Status     RunStatus  `json:"status" gorm:"size:16;index"`
	Chunks     int        `json:"chunks"`
	Rows       int        `json:"rows"`
	Columns    string     `json:"-"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// ChunkRecord marks a chunk of a run as checkpointed.
type ChunkRecord struct {
	RunID       string    `json:"run_id" gorm:"primaryKey;size:36"`
	Chunk       int       `json:"chunk" gorm:"primaryKey"`
	Rows        int       `json:"rows"`
	CompletedAt time.Time `json:"completed_at"`
}

// ListingRecord is the checkpointed feature row of one listing. Features
// holds every non-null column keyed by name.
type ListingRecord struct {
	ID         uint           `json:"-" gorm:"primaryKey"`
	RunID      string         `json:"run_id" gorm:"size:36;uniqueIndex:idx_run_property"`
	PropertyID int64          `json:"property_id" gorm:"uniqueIndex:idx_run_property"`
	Chunk      int            `json:"chunk" gorm:"index"`
	Position   int            `json:"-"`
	Suburb     string         `json:"suburb" gorm:"index"`
	Year       int            `json:"year"`
	Quarter    int            `json:"quarter"`
	WeeklyRent *float64       `json:"weekly_rent"`
	Features   datatypes.JSON `json:"features"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// RunStats summarises the checkpointed rows of a run.
type RunStats struct {
	RunID          string        `json:"run_id"`
	Status         RunStatus     `json:"status"`
	Listings       int64         `json:"listings"`
	Suburbs        int64         `json:"suburbs"`
	AvgWeeklyRent  float64       `json:"avg_weekly_rent"`
	ListingsByYear map[int]int64 `json:"listings_by_year"`
	ChunksDone     int64         `json:"chunks_done"`
	ChunksTotal    int           `json:"chunks_total"`
}
