package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentfeatures/internal/geometry"
	"rentfeatures/internal/impute"
	"rentfeatures/internal/models"
	"rentfeatures/internal/reconcile"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Pipeline.MinSuburbObservations)
	assert.Equal(t, int64(42), cfg.Pipeline.Seed)
	assert.Equal(t, 0.5, cfg.Pipeline.SampleRatio)
	assert.Equal(t, 0.2, cfg.Geo.SchoolDecay)
	assert.Equal(t, 2000.0, cfg.Geo.AmenityRadius)
	assert.Equal(t, 15, cfg.Geo.NeighbourK)
	assert.Equal(t, 1e-4, cfg.Geo.DistanceEpsilon)
	assert.Equal(t, 1e-6, cfg.Imputation.NoSchoolScore)
	assert.Equal(t, 3, cfg.BatchProcessing.MaxRetries)
	assert.Equal(t, "5250", cfg.Server.Port)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PIPELINE_SEED=7\nBATCH_PROCESSOR_COUNT=8\n"), 0644))
	t.Cleanup(func() {
		os.Unsetenv("PIPELINE_SEED")
		os.Unsetenv("BATCH_PROCESSOR_COUNT")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Pipeline.Seed)
	assert.Equal(t, 8, cfg.BatchProcessing.ProcessorCount)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero ratio", "PIPELINE_SAMPLE_RATIO", "0"},
		{"ratio above one", "PIPELINE_SAMPLE_RATIO", "1.5"},
		{"inverted quantiles", "PIPELINE_OUTLIER_LOWER", "0.995"},
		{"zero k", "GEO_NEIGHBOUR_K", "0"},
		{"no workers", "BATCH_PROCESSOR_COUNT", "0"},
		{"not a number", "GEO_NEIGHBOUR_K", "many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadFeatures_MissingFile(t *testing.T) {
	f, err := LoadFeatures(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, geometry.DefaultAmenityTags, f.AmenityTags)

	chains, err := f.Chains()
	require.NoError(t, err)
	assert.Equal(t, impute.DefaultChains(), chains)
}

func TestLoadFeatures_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.yaml")
	content := `
amenity_tags: [cafe, bar]
school_fallback:
  walking_5min: [walking_15min, driving_15min]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	f, err := LoadFeatures(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cafe", "bar"}, f.AmenityTags)

	chains, err := f.Chains()
	require.NoError(t, err)
	walk5 := models.Band{Mode: models.Walking, Minutes: 5}
	assert.Equal(t, impute.Chains{walk5: {
		{Mode: models.Walking, Minutes: 15},
		{Mode: models.Driving, Minutes: 15},
	}}, chains)
}

func TestLoadFeatures_InvalidBand(t *testing.T) {
	tests := map[string]string{
		"unknown target":   "school_fallback:\n  cycling_5min: [walking_10min]\n",
		"unknown fallback": "school_fallback:\n  walking_5min: [walking_20min]\n",
		"self reference":   "school_fallback:\n  walking_5min: [walking_5min]\n",
		"malformed yaml":   "amenity_tags: [cafe\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "features.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := LoadFeatures(path)
			assert.Error(t, err)
		})
	}
}

func TestSuburbMapping_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mapping.json")
	m, err := reconcile.NewMapping(map[string][]string{
		"south yarra": {"sth yarra", "South-Yarra"},
		"st kilda":    {"saint kilda"},
	})
	require.NoError(t, err)
	require.NoError(t, SaveSuburbMapping(path, m))

	loaded, err := LoadSuburbMapping(path)
	require.NoError(t, err)
	assert.Equal(t, "south yarra", loaded.Canonicalize("STH YARRA"))
	assert.Equal(t, "st kilda", loaded.Canonicalize("Saint Kilda"))
	assert.Equal(t, 3, loaded.Len())
}

func TestLoadSuburbMapping_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSuburbMapping(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"a": "not a list"}`), 0644))
	_, err = LoadSuburbMapping(bad)
	assert.Error(t, err)

	conflict := filepath.Join(dir, "conflict.json")
	require.NoError(t, os.WriteFile(conflict, []byte(`{"a": ["x"], "b": ["x"]}`), 0644))
	_, err = LoadSuburbMapping(conflict)
	assert.ErrorIs(t, err, reconcile.ErrMappingConflict)
}

func TestLoadSuburbDictionary_KeepsConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": ["x"], "b": ["x"]}`), 0644))

	d, err := LoadSuburbDictionary(path)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"a": {"x"}, "b": {"x"}}, d)

	_, err = LoadSuburbDictionary(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestComposites_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "composites.json")
	composites := map[string][]string{"carlton-north": {"carlton", "north"}}
	require.NoError(t, SaveComposites(path, composites))

	loaded, err := LoadComposites(path)
	require.NoError(t, err)
	assert.Equal(t, composites, loaded)
}
