package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

// Encode renders the cells of l in header order.
func Encode(l *models.Listing, header []models.Column) ([]string, error) {
	record := make([]string, len(header))
	for i, c := range header {
		ce, ok := cellFor(c)
		if !ok {
			return nil, fmt.Errorf("no encoder for column %q", c)
		}
		record[i] = ce.get(l)
	}
	return record, nil
}

// Decode builds a listing from one record. Unknown columns are ignored. Cells
// that fail to parse are left null and reported together in the error, so a
// non-nil listing is returned whenever the property id is valid.
func Decode(header, record []string) (*models.Listing, error) {
	if len(header) != len(record) {
		return nil, fmt.Errorf("record has %d fields, header has %d", len(record), len(header))
	}

	l := &models.Listing{}
	var errs []error
	var lon, lat *float64
	for i, name := range header {
		v := record[i]
		switch name {
		case colLongitude:
			f, err := parseFloat(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			lon = f
			continue
		case colLatitude:
			f, err := parseFloat(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			lat = f
			continue
		}

		ce, ok := cellFor(models.Column(name))
		if !ok {
			continue
		}
		if err := ce.set(l, v); err != nil {
			if models.Column(name) == models.ColPropertyID {
				return nil, fmt.Errorf("invalid property id: %w", err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if l.Coordinates == nil && lon != nil && lat != nil {
		l.Coordinates = &orb.Point{*lon, *lat}
	}
	return l, errors.Join(errs...)
}

// Columns maps a header onto the listing columns it supplies.
func Columns(header []string) []models.Column {
	var cols []models.Column
	hasLon, hasLat := false, false
	for _, name := range header {
		switch name {
		case colLongitude:
			hasLon = true
		case colLatitude:
			hasLat = true
		default:
			if _, ok := cellFor(models.Column(name)); ok {
				cols = append(cols, models.Column(name))
			}
		}
	}
	if hasLon && hasLat {
		cols = append(cols, models.ColCoordinates)
	}
	return cols
}

// ReadListings reads a delimited listing table. Rows with an invalid property
// id are skipped; other bad cells are logged and left null.
func ReadListings(r io.Reader, logger *logrus.Logger) ([]*models.Listing, []models.Column, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []*models.Listing
	skipped := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read record on line %d: %w", line, err)
		}

		l, err := Decode(header, record)
		if l == nil {
			logger.WithError(err).WithField("line", line).Warn("Skipping unreadable listing")
			skipped++
			continue
		}
		if err != nil {
			logger.WithError(err).WithField("property_id", l.PropertyID).Warn("Listing has malformed cells")
		}
		rows = append(rows, l)
	}

	logger.WithFields(logrus.Fields{
		"rows":    len(rows),
		"skipped": skipped,
	}).Debug("Read listings")
	return rows, Columns(header), nil
}

// WriteListings writes rows with a header line.
func WriteListings(w io.Writer, rows []*models.Listing, header []models.Column) error {
	writer := csv.NewWriter(w)
	names := make([]string, len(header))
	for i, c := range header {
		names[i] = string(c)
	}
	if err := writer.Write(names); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, l := range rows {
		record, err := Encode(l, header)
		if err != nil {
			return err
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write listing %d: %w", l.PropertyID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadListingsFile(path string, logger *logrus.Logger) ([]*models.Listing, []models.Column, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open listings %s: %w", path, err)
	}
	defer file.Close()
	return ReadListings(file, logger)
}

func WriteListingsFile(path string, rows []*models.Listing, header []models.Column) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()
	return WriteListings(file, rows, header)
}

// ToMap renders the non-empty cells of l keyed by column name.
func ToMap(l *models.Listing, header []models.Column) (map[string]string, error) {
	record, err := Encode(l, header)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(header))
	for i, c := range header {
		if record[i] != "" {
			out[string(c)] = record[i]
		}
	}
	return out, nil
}

// FromMap is the inverse of ToMap.
func FromMap(m map[string]string) (*models.Listing, error) {
	header := make([]string, 0, len(m))
	record := make([]string, 0, len(m))
	for k, v := range m {
		header = append(header, k)
		record = append(record, v)
	}
	return Decode(header, record)
}
