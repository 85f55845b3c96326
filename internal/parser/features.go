package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	featureSeparator = ", ,"
	hectareSuffix    = "ha"
	sqmSuffix        = "m²"
	sqmPerHectare    = 10000
)

// placeholders mark a missing value in a feature string.
var placeholders = map[string]bool{"": true, "−": true, "-": true}

// Features holds the positional values of a listing feature string.
type Features struct {
	Bedrooms  *int
	Bathrooms *int
	CarSpaces *int
	LandArea  *int
}

// ParseFeatures parses strings like "3, ,2, ,1, ,450m²," positionally into
// bedrooms, bathrooms, car spaces and an optional land area. A land area found
// in the bedrooms slot is reclassified. Malformed tokens are left nil and
// reported in the returned error alongside the values that did parse.
func ParseFeatures(s string) (Features, error) {
	var f Features
	var errs []error

	parts := strings.Split(s, featureSeparator)
	for i := range parts {
		parts[i] = strings.TrimRight(strings.TrimSpace(parts[i]), ",")
	}

	if len(parts) > 0 {
		if isLandArea(parts[0]) {
			area, err := parseLandArea(parts[0])
			f.LandArea = area
			errs = appendErr(errs, "land_area", err)
		} else {
			v, err := parseCount(parts[0])
			f.Bedrooms = v
			errs = appendErr(errs, "bedrooms", err)
		}
	}
	if len(parts) > 1 {
		v, err := parseCount(parts[1])
		f.Bathrooms = v
		errs = appendErr(errs, "bathrooms", err)
	}
	if len(parts) > 2 {
		v, err := parseCount(parts[2])
		f.CarSpaces = v
		errs = appendErr(errs, "car_spaces", err)
	}
	if f.LandArea == nil && len(parts) > 3 && isLandArea(parts[3]) {
		area, err := parseLandArea(parts[3])
		f.LandArea = area
		errs = appendErr(errs, "land_area", err)
	}

	return f, errors.Join(errs...)
}

func appendErr(errs []error, field string, err error) []error {
	if err == nil {
		return errs
	}
	return append(errs, fmt.Errorf("%s: %w", field, err))
}

func isLandArea(token string) bool {
	return strings.Contains(token, hectareSuffix) || strings.Contains(token, sqmSuffix)
}

func parseCount(token string) (*int, error) {
	if placeholders[token] {
		return nil, nil
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return nil, fmt.Errorf("invalid count %q", token)
	}
	return &v, nil
}

// parseLandArea returns square metres for "5,030m²" or "1.25ha" tokens.
func parseLandArea(token string) (*int, error) {
	hectares := strings.Contains(token, hectareSuffix)
	value := strings.NewReplacer(hectareSuffix, "", sqmSuffix, "", ",", "").Replace(token)
	value = strings.TrimSpace(value)
	if placeholders[value] {
		return nil, nil
	}
	area, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid land area %q", token)
	}
	if hectares {
		area *= sqmPerHectare
	}
	sqm := int(math.Round(area))
	return &sqm, nil
}
