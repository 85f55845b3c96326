package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v2"

	"rentfeatures/internal/geometry"
	"rentfeatures/internal/impute"
	"rentfeatures/internal/models"
)

// Features selects the amenity tags to count and the school fallback chains.
type Features struct {
	AmenityTags    []string            `yaml:"amenity_tags"`
	SchoolFallback map[string][]string `yaml:"school_fallback"`
}

// DefaultFeatures returns the built-in tags and chains.
func DefaultFeatures() *Features {
	f := &Features{
		AmenityTags:    append([]string(nil), geometry.DefaultAmenityTags...),
		SchoolFallback: make(map[string][]string),
	}
	for target, chain := range impute.DefaultChains() {
		names := make([]string, len(chain))
		for i, b := range chain {
			names[i] = b.String()
		}
		f.SchoolFallback[target.String()] = names
	}
	return f
}

// LoadFeatures reads a YAML feature file. A missing file yields the defaults
// and sections left out of the file keep their defaults.
func LoadFeatures(path string) (*Features, error) {
	f := DefaultFeatures()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feature config: %w", err)
	}

	var fromFile Features
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse feature config: %w", err)
	}
	if len(fromFile.AmenityTags) > 0 {
		f.AmenityTags = fromFile.AmenityTags
	}
	if fromFile.SchoolFallback != nil {
		f.SchoolFallback = fromFile.SchoolFallback
	}

	if _, err := f.Chains(); err != nil {
		return nil, err
	}
	return f, nil
}

// Chains converts the band names of SchoolFallback.
func (f *Features) Chains() (impute.Chains, error) {
	chains := make(impute.Chains, len(f.SchoolFallback))
	for target, names := range f.SchoolFallback {
		t, err := models.ParseBand(target)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback target: %w", err)
		}
		for _, n := range names {
			b, err := models.ParseBand(n)
			if err != nil {
				return nil, fmt.Errorf("invalid fallback for %s: %w", target, err)
			}
			if b == t {
				return nil, fmt.Errorf("band %s falls back to itself", target)
			}
			chains[t] = append(chains[t], b)
		}
	}
	return chains, nil
}
