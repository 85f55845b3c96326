package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"rentfeatures/internal/reconcile"
)

// LoadSuburbMapping reads a {canonical: [variants...]} file into an
// immutable mapping.
func LoadSuburbMapping(path string) (*reconcile.Mapping, error) {
	raw, err := readDictionary(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load suburb mapping: %w", err)
	}
	m, err := reconcile.NewMapping(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid suburb mapping %s: %w", path, err)
	}
	return m, nil
}

// LoadSuburbDictionary reads a mapping file without resolving it.
func LoadSuburbDictionary(path string) (map[string][]string, error) {
	d, err := readDictionary(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load suburb mapping: %w", err)
	}
	return d, nil
}

func SaveSuburbMapping(path string, m *reconcile.Mapping) error {
	if err := writeDictionary(path, m.Dictionary()); err != nil {
		return fmt.Errorf("failed to save suburb mapping: %w", err)
	}
	return nil
}

// LoadComposites reads a {composite: [parts...]} file.
func LoadComposites(path string) (map[string][]string, error) {
	d, err := readDictionary(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load composite suburbs: %w", err)
	}
	return d, nil
}

func SaveComposites(path string, composites map[string][]string) error {
	if err := writeDictionary(path, composites); err != nil {
		return fmt.Errorf("failed to save composite suburbs: %w", err)
	}
	return nil
}

func readDictionary(path string) (map[string][]string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var d map[string][]string
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return d, nil
}

func writeDictionary(path string, d map[string][]string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(absPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
