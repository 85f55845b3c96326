package parser

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrNoPrice          = errors.New("no numeric price found")
	ErrUnknownFrequency = errors.New("unrecognised billing frequency")
)

// Frequency is a rental billing period.
type Frequency string

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Unknown Frequency = "unknown"
)

// Weeks per month used for normalisation.
const weeksPerMonth = 4

var frequencyKeywords = map[string]Frequency{
	"pw":               Weekly,
	"p.w.":             Weekly,
	"p.w":              Weekly,
	"perweek":          Weekly,
	"weekly":           Weekly,
	"p/w":              Weekly,
	"wk":               Weekly,
	"/wk":              Weekly,
	"/w":               Weekly,
	"/week":            Weekly,
	"pcm":              Monthly,
	"pm":               Monthly,
	"permonth":         Monthly,
	"calendar":         Monthly,
	"calender":         Monthly,
	"monthly":          Monthly,
	"percalendarmonth": Monthly,
	"percalendermonth": Monthly,
}

var (
	priceCleaner   = strings.NewReplacer("$", "", ",", "")
	numberPattern  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	numericOnly    = regexp.MustCompile(`^[\d.]+$`)
	keywordPattern = buildKeywordPattern()
)

// buildKeywordPattern matches a number immediately followed by a frequency
// keyword. Longer keywords are tried first.
func buildKeywordPattern() *regexp.Regexp {
	keys := make([]string, 0, len(frequencyKeywords))
	for k := range frequencyKeywords {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return regexp.MustCompile(`\d+(?:\.\d+)?(` + strings.Join(quoted, "|") + `)`)
}

func cleanPrice(raw string) string {
	s := strings.ToLower(priceCleaner.Replace(raw))
	return strings.Join(strings.Fields(s), "")
}

// ParseFrequency returns the billing frequency of a raw price string. A bare
// number is taken to be weekly.
func ParseFrequency(raw string) Frequency {
	s := cleanPrice(raw)
	if m := keywordPattern.FindStringSubmatch(s); m != nil {
		return frequencyKeywords[m[1]]
	}
	if numericOnly.MatchString(s) {
		return Weekly
	}
	return Unknown
}

// WeeklyRent normalises a scraped price string to a weekly figure. Monthly
// prices are divided by four. Strings without a recognised frequency return
// ErrUnknownFrequency and must not be guessed.
func WeeklyRent(raw string) (float64, error) {
	s := cleanPrice(raw)
	num := numberPattern.FindString(s)
	if num == "" {
		return 0, ErrNoPrice
	}
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}

	switch ParseFrequency(raw) {
	case Weekly:
		return value, nil
	case Monthly:
		return value / weeksPerMonth, nil
	default:
		return 0, ErrUnknownFrequency
	}
}
