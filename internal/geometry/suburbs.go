package geometry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"github.com/sirupsen/logrus"
)

// DefaultNameField is the locality name attribute of the suburb dataset.
const DefaultNameField = "LOCALITY"

// Suburb is a named locality polygon in longitude/latitude.
type Suburb struct {
	Name     string
	Geometry orb.MultiPolygon
}

// Centroid returns the area centroid computed in Web Mercator and projected
// back to longitude/latitude.
func (s *Suburb) Centroid() (orb.Point, error) {
	if len(s.Geometry) == 0 {
		return orb.Point{}, ErrEmptyGeometry
	}
	projected := project.Geometry(s.Geometry.Clone(), project.WGS84.ToMercator)
	c, area := planar.CentroidArea(projected)
	if area == 0 {
		return orb.Point{}, fmt.Errorf("suburb %q: %w", s.Name, ErrEmptyGeometry)
	}
	return project.Point(c, project.Mercator.ToWGS84), nil
}

type SuburbLoader struct {
	logger *logrus.Logger
}

func NewSuburbLoader(logger *logrus.Logger) *SuburbLoader {
	return &SuburbLoader{logger: logger}
}

// Load reads suburbs from a .shp or .geojson/.json file. Names are lowercased
// and features sharing a name are merged.
func (sl *SuburbLoader) Load(path, nameField string) ([]*Suburb, error) {
	if nameField == "" {
		nameField = DefaultNameField
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return sl.LoadShapefile(path, nameField)
	case ".geojson", ".json":
		return sl.LoadGeoJSON(path, nameField)
	default:
		return nil, fmt.Errorf("unsupported suburb file %s", path)
	}
}

func (sl *SuburbLoader) LoadShapefile(path, nameField string) ([]*Suburb, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer r.Close()

	nameIdx := -1
	for i, f := range r.Fields() {
		if strings.EqualFold(f.String(), nameField) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("shapefile %s has no %s field", path, nameField)
	}

	merger := newSuburbMerger()
	skipped := 0
	for r.Next() {
		idx, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		name := r.ReadAttribute(idx, nameIdx)
		mp := shapePolygon(poly)
		if len(mp) == 0 {
			skipped++
			continue
		}
		merger.add(name, mp)
	}

	suburbs := merger.suburbs()
	sl.logger.WithFields(logrus.Fields{
		"path":    path,
		"suburbs": len(suburbs),
		"skipped": skipped,
	}).Info("Loaded suburb shapefile")
	return suburbs, nil
}

// shapePolygon splits a shapefile polygon into rings. Clockwise rings start a
// new polygon and counter-clockwise rings are holes of the previous one.
func shapePolygon(poly *shp.Polygon) orb.MultiPolygon {
	var mp orb.MultiPolygon
	n := len(poly.Parts)
	for i := 0; i < n; i++ {
		start := poly.Parts[i]
		end := int32(len(poly.Points))
		if i+1 < n {
			end = poly.Parts[i+1]
		}
		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{poly.Points[j].X, poly.Points[j].Y})
		}
		if len(ring) < 4 {
			continue
		}
		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	return mp
}

func (sl *SuburbLoader) LoadGeoJSON(path, nameField string) ([]*Suburb, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}

	merger := newSuburbMerger()
	skipped := 0
	for _, f := range fc.Features {
		name := propertyString(f.Properties, nameField)
		if name == "" {
			skipped++
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			merger.add(name, orb.MultiPolygon{g})
		case orb.MultiPolygon:
			merger.add(name, g)
		default:
			skipped++
		}
	}

	suburbs := merger.suburbs()
	sl.logger.WithFields(logrus.Fields{
		"path":    path,
		"suburbs": len(suburbs),
		"skipped": skipped,
	}).Info("Loaded suburb geojson")
	return suburbs, nil
}

func propertyString(props geojson.Properties, field string) string {
	for k, v := range props {
		if strings.EqualFold(k, field) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

type suburbMerger struct {
	byName map[string]*Suburb
}

func newSuburbMerger() *suburbMerger {
	return &suburbMerger{byName: make(map[string]*Suburb)}
}

func (m *suburbMerger) add(name string, mp orb.MultiPolygon) {
	name = strings.ToLower(strings.TrimSpace(strings.TrimRight(name, "\x00")))
	if name == "" {
		return
	}
	s, ok := m.byName[name]
	if !ok {
		s = &Suburb{Name: name}
		m.byName[name] = s
	}
	s.Geometry = append(s.Geometry, mp...)
}

func (m *suburbMerger) suburbs() []*Suburb {
	out := make([]*Suburb, 0, len(m.byName))
	for _, s := range m.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SaveCentroids writes one point feature per suburb with its neighbour count
// in the adjacency matrix.
func (sl *SuburbLoader) SaveCentroids(path string, suburbs []*Suburb, matrix *Matrix) error {
	fc := geojson.NewFeatureCollection()
	for _, s := range suburbs {
		c, err := s.Centroid()
		if err != nil {
			sl.logger.WithError(err).WithField("suburb", s.Name).Warn("Skipping suburb without centroid")
			continue
		}
		f := geojson.NewFeature(c)
		f.Properties = geojson.Properties{
			"suburb":     s.Name,
			"neighbours": len(matrix.Neighbours(s.Name)),
		}
		fc.Append(f)
	}

	output := map[string]interface{}{
		"type":     "FeatureCollection",
		"features": fc.Features,
		"metadata": map[string]interface{}{
			"generated": time.Now().Format(time.RFC3339),
			"suburbs":   len(fc.Features),
		},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode GeoJSON: %w", err)
	}

	sl.logger.Infof("Saved %d suburb centroids to %s", len(fc.Features), path)
	return nil
}
