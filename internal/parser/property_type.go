package parser

import (
	"strings"

	"rentfeatures/internal/models"
)

var categoryByType = map[string]models.Category{
	"house":                       models.CategoryHouse,
	"new house land":              models.CategoryHouse,
	"townhouse":                   models.CategoryHouse,
	"villa":                       models.CategoryHouse,
	"semi-detached":               models.CategoryHouse,
	"terrace":                     models.CategoryHouse,
	"duplex":                      models.CategoryHouse,
	"apartment unit flat":         models.CategoryFlat,
	"studio":                      models.CategoryFlat,
	"new apartments off the plan": models.CategoryFlat,
	"penthouse":                   models.CategoryFlat,
}

// NormalizePropertyType lowercases a scraped type and collapses the
// separators used by the listing site ("Apartment / Unit / Flat").
func NormalizePropertyType(raw string) string {
	s := strings.NewReplacer("/", " ", "&", " ").Replace(strings.ToLower(raw))
	return strings.Join(strings.Fields(s), " ")
}

// CategoryOf maps a scraped property type onto house, flat or unknown.
func CategoryOf(raw string) models.Category {
	if c, ok := categoryByType[NormalizePropertyType(raw)]; ok {
		return c
	}
	return models.CategoryUnknown
}
