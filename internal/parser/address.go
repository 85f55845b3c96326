package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrShortSlug = errors.New("listing slug has too few tokens")

// Words that introduce a unit or building descriptor rather than a street.
var addressPrefixes = map[string]bool{
	"unit": true, "apt": true, "apartment": true, "suite": true, "level": true,
	"floor": true, "shop": true, "office": true, "rear": true, "front": true,
	"ground": true, "basement": true, "mezzanine": true, "penthouse": true,
	"villa": true, "townhouse": true, "house": true, "home": true,
	"property": true, "building": true,
}

// title upper-cases the first letter of each word. Casers are stateful, so a
// fresh one is used per call.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// Address is the location decoded from a listing URL slug.
type Address struct {
	Street   string
	Suburb   string
	State    string
	Postcode string
}

func (a Address) String() string {
	return fmt.Sprintf("%s, %s, %s %s", a.Street, title(a.Suburb), strings.ToUpper(a.State), a.Postcode)
}

// ParseListingURL decodes a slug such as "/4511-33-rose-lane-melbourne-vic-3000-16767655".
// The rightmost tokens are postcode, state and suburb; a trailing listing id
// after the postcode is ignored, as is a leading unit number.
func ParseListingURL(raw string) (Address, error) {
	slug := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		slug = u.Path
	}
	slug = strings.Trim(slug, "/")
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		slug = slug[i+1:]
	}

	parts := strings.Split(strings.ToLower(slug), "-")
	if len(parts) >= 2 && isDigits(parts[len(parts)-1]) && isDigits(parts[len(parts)-2]) {
		parts = parts[:len(parts)-1]
	}
	if len(parts) < 3 {
		return Address{}, ErrShortSlug
	}

	n := len(parts)
	addr := Address{
		Postcode: parts[n-1],
		State:    parts[n-2],
		Suburb:   parts[n-3],
	}

	street := parts[:n-3]
	if len(street) > 0 && isDigits(street[0]) {
		street = street[1:]
	}
	addr.Street = CleanStreetAddress(strings.Join(street, " "))
	return addr, nil
}

// CleanStreetAddress drops unit prefixes and keeps only the last house number
// and the street name after it: "unit 1 47 53 wyndham st" -> "53 Wyndham St".
func CleanStreetAddress(street string) string {
	words := strings.Fields(street)
	if len(words) == 0 {
		return street
	}

	i := 0
	for i < len(words) && addressPrefixes[strings.ToLower(words[i])] {
		i++
		if i < len(words) && isDigits(words[i]) {
			i++
		}
	}
	rest := words[i:]
	if len(rest) == 0 {
		return street
	}

	number := -1
	for j := len(rest) - 1; j >= 0; j-- {
		if strings.IndexFunc(rest[j], unicode.IsDigit) >= 0 {
			number = j
			break
		}
	}
	if number < 0 {
		return titleWords(rest)
	}
	if number == len(rest)-1 {
		return rest[number]
	}
	return rest[number] + " " + titleWords(rest[number+1:])
}

func titleWords(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = title(w)
	}
	return strings.Join(out, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
