package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// csvTable is a header-indexed view over a small reference file.
type csvTable struct {
	header  []string
	index   map[string]int
	records [][]string
}

func readTable(path string) (*csvTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()
	return parseTable(file)
}

func parseTable(r io.Reader) (*csvTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table has no header")
	}
	t := &csvTable{header: records[0], index: make(map[string]int), records: records[1:]}
	for i, name := range records[0] {
		t.index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	return t, nil
}

// get returns the first present column among names, or "".
func (t *csvTable) get(record []string, names ...string) string {
	for _, n := range names {
		if i, ok := t.index[n]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
	}
	return ""
}

func (t *csvTable) require(names ...string) error {
	for _, n := range names {
		if _, ok := t.index[n]; !ok {
			return fmt.Errorf("missing column %q", n)
		}
	}
	return nil
}

func (t *csvTable) point(record []string) (orb.Point, error) {
	lon, err := strconv.ParseFloat(t.get(record, "longitude", "lon", "x"), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(t.get(record, "latitude", "lat", "y"), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid latitude: %w", err)
	}
	return orb.Point{lon, lat}, nil
}

// ReadSchools reads school_name, longitude, latitude and the optional
// establishment_year and school_type columns. A school is secondary when its
// type mentions "sec".
func ReadSchools(path string, logger *logrus.Logger) ([]*models.School, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("school_name"); err != nil {
		return nil, fmt.Errorf("schools %s: %w", path, err)
	}

	schools := make([]*models.School, 0, len(t.records))
	for _, rec := range t.records {
		name := t.get(rec, "school_name")
		p, err := t.point(rec)
		if err != nil {
			logger.WithError(err).WithField("school", name).Warn("Skipping school without location")
			continue
		}
		s := &models.School{
			Name:      name,
			Location:  p,
			Secondary: strings.Contains(strings.ToLower(t.get(rec, "school_type")), "sec"),
		}
		if y, err := parseInt(t.get(rec, "establishment_year")); err != nil {
			logger.WithError(err).WithField("school", name).Warn("Invalid establishment year")
		} else {
			s.EstablishmentYear = y
		}
		schools = append(schools, s)
	}

	logger.WithFields(logrus.Fields{
		"path":    path,
		"schools": len(schools),
	}).Info("Loaded schools")
	return schools, nil
}

// ReadRanks reads a school_name -> rank table.
func ReadRanks(path string) (map[string]int, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("school_name", "rank"); err != nil {
		return nil, fmt.Errorf("ranks %s: %w", path, err)
	}
	ranks := make(map[string]int, len(t.records))
	for _, rec := range t.records {
		r, err := strconv.Atoi(t.get(rec, "rank"))
		if err != nil {
			return nil, fmt.Errorf("invalid rank for %q: %w", t.get(rec, "school_name"), err)
		}
		ranks[t.get(rec, "school_name")] = r
	}
	return ranks, nil
}

// ReadAmenities reads amenity, longitude, latitude and an optional name.
func ReadAmenities(path string, logger *logrus.Logger) ([]*models.Amenity, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("amenity"); err != nil {
		return nil, fmt.Errorf("amenities %s: %w", path, err)
	}

	out := make([]*models.Amenity, 0, len(t.records))
	for _, rec := range t.records {
		p, err := t.point(rec)
		if err != nil {
			logger.WithError(err).Debug("Skipping amenity without location")
			continue
		}
		out = append(out, &models.Amenity{
			Name:     t.get(rec, "name"),
			Tag:      t.get(rec, "amenity"),
			Location: p,
		})
	}

	logger.WithFields(logrus.Fields{
		"path":      path,
		"amenities": len(out),
	}).Info("Loaded amenities")
	return out, nil
}
