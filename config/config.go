package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Pipeline struct {
		// Suburbs with this many observations or fewer are dropped
		MinSuburbObservations int `env:"PIPELINE_MIN_SUBURB_OBSERVATIONS" envDefault:"10"`

		// Seed of the sampling generator
		Seed int64 `env:"PIPELINE_SEED" envDefault:"42"`

		// Fraction of each stratum kept when sampling
		SampleRatio float64 `env:"PIPELINE_SAMPLE_RATIO" envDefault:"0.5"`

		// Weekly rent quantiles outside which listings are dropped
		OutlierLower float64 `env:"PIPELINE_OUTLIER_LOWER" envDefault:"0.01"`
		OutlierUpper float64 `env:"PIPELINE_OUTLIER_UPPER" envDefault:"0.99"`
	}

	Geo struct {
		SchoolDecay     float64 `env:"GEO_SCHOOL_DECAY" envDefault:"0.2"`
		AmenityRadius   float64 `env:"GEO_AMENITY_RADIUS_M" envDefault:"2000"`
		NeighbourK      int     `env:"GEO_NEIGHBOUR_K" envDefault:"15"`
		Strength        float64 `env:"GEO_CONNECTION_STRENGTH" envDefault:"1"`
		DistanceEpsilon float64 `env:"GEO_DISTANCE_EPSILON" envDefault:"0.0001"`
		SuburbNameField string  `env:"GEO_SUBURB_NAME_FIELD" envDefault:"LOCALITY"`
	}

	Imputation struct {
		// Score given to bands where no school was reachable
		NoSchoolScore float64 `env:"IMPUTE_NO_SCHOOL_SCORE" envDefault:"0.000001"`
	}

	// BatchProcessing configuration
	BatchProcessing struct {
		// Maximum number of listings per chunk
		MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"5000"`

		// Number of queued chunks before Push reports the queue full
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"64"`

		// Number of concurrent chunk processors
		ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

		// Maximum number of retries for failed checkpoints
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`
	}

	Storage struct {
		CheckpointPath string `env:"STORAGE_CHECKPOINT_PATH" envDefault:"data/checkpoints.db"`
		MappingDBPath  string `env:"STORAGE_MAPPING_DB_PATH" envDefault:"data/mapping.db"`
		MappingPath    string `env:"STORAGE_MAPPING_PATH" envDefault:"config/suburb_mapping.json"`
		FeaturesPath   string `env:"STORAGE_FEATURES_PATH" envDefault:"config/features.yaml"`
	}

	Server struct {
		Port string `env:"SERVER_PORT" envDefault:"5250"`
	}
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Pipeline.SampleRatio <= 0 || c.Pipeline.SampleRatio > 1 {
		return fmt.Errorf("sample ratio must be in (0, 1], got %v", c.Pipeline.SampleRatio)
	}
	if c.Pipeline.OutlierLower < 0 || c.Pipeline.OutlierUpper > 1 || c.Pipeline.OutlierLower >= c.Pipeline.OutlierUpper {
		return fmt.Errorf("invalid outlier quantiles [%v, %v]", c.Pipeline.OutlierLower, c.Pipeline.OutlierUpper)
	}
	if c.Geo.NeighbourK < 1 {
		return fmt.Errorf("neighbour k must be positive, got %d", c.Geo.NeighbourK)
	}
	if c.BatchProcessing.MaxBatchSize < 1 || c.BatchProcessing.ProcessorCount < 1 {
		return fmt.Errorf("batch size and processor count must be positive")
	}
	return nil
}
