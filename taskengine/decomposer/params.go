package decomposer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PARAMETER EXTRACTION
// =============================================================================

// TripParams are the parameters a template extracts from the goal text.
type TripParams struct {
	Origin       string
	Destination  string
	DepartDate   string // ISO yyyy-mm-dd
	DurationDays int
	Currency     string
}

var (
	isoDatePattern  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	durationPattern = regexp.MustCompile(`\b(\d+)[\s-]*day`)
	originPattern   = regexp.MustCompile(`\bfrom\s+([A-Z]{3})\b`)
	currencyPattern = regexp.MustCompile(`\b(GBP|USD|EUR|JPY|AUD|CAD|CHF)\b`)
	dayOfMonthPat   = regexp.MustCompile(`\b(?:on\s+the\s+|on\s+)?(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?([A-Za-z]+)\b`)
)

// monthNames maps month names and three-letter abbreviations to months.
var monthNames = func() map[string]time.Month {
	m := make(map[string]time.Month)
	for month := time.January; month <= time.December; month++ {
		name := strings.ToLower(month.String())
		m[name] = month
		m[name[:3]] = month
	}
	return m
}()

// destinationAirports maps destination countries/cities to their primary
// airport. Unknown destinations keep a generic search payload.
var destinationAirports = map[string]string{
	"japan":     "NRT",
	"tokyo":     "NRT",
	"france":    "CDG",
	"paris":     "CDG",
	"spain":     "MAD",
	"italy":     "FCO",
	"rome":      "FCO",
	"germany":   "FRA",
	"usa":       "JFK",
	"america":   "JFK",
	"australia": "SYD",
	"thailand":  "BKK",
	"greece":    "ATH",
	"portugal":  "LIS",
	"iceland":   "KEF",
}

// sortedDestinations returns the destination keys in sorted order so
// extraction never depends on map iteration order.
func sortedDestinations() []string {
	keys := make([]string, 0, len(destinationAirports))
	for dest := range destinationAirports {
		keys = append(keys, dest)
	}
	sort.Strings(keys)
	return keys
}

// extractTripParams pulls travel parameters out of the raw goal text.
// IATA codes are matched on the raw text since normalization lowercases.
func extractTripParams(rawGoal string, context map[string]any, now time.Time) TripParams {
	params := TripParams{}

	if m := originPattern.FindStringSubmatch(rawGoal); m != nil {
		params.Origin = m[1]
	}
	if m := currencyPattern.FindStringSubmatch(rawGoal); m != nil {
		params.Currency = m[1]
	}
	if m := durationPattern.FindStringSubmatch(strings.ToLower(rawGoal)); m != nil {
		params.DurationDays, _ = strconv.Atoi(m[1])
	}

	// Sorted keys keep the pick stable when a goal mentions more than one
	// known destination.
	lower := strings.ToLower(rawGoal)
	for _, dest := range sortedDestinations() {
		if strings.Contains(lower, dest) {
			params.Destination = destinationAirports[dest]
			break
		}
	}

	params.DepartDate = extractDate(rawGoal, now)

	// Context overrides extracted values.
	if v, ok := context["origin"].(string); ok && v != "" {
		params.Origin = v
	}
	if v, ok := context["destination"].(string); ok && v != "" {
		params.Destination = v
	}
	if v, ok := context["currency"].(string); ok && v != "" {
		params.Currency = v
	}

	return params
}

// extractDate finds a date in the goal. ISO dates pass through; month
// names (with an optional day) resolve to their next occurrence, rolling
// into next year when the month has already passed.
func extractDate(rawGoal string, now time.Time) string {
	if m := isoDatePattern.FindStringSubmatch(rawGoal); m != nil {
		return m[0]
	}

	lower := strings.ToLower(rawGoal)

	day := 1
	var month time.Month
	found := false

	for _, m := range dayOfMonthPat.FindAllStringSubmatch(lower, -1) {
		if parsed, ok := monthNames[m[2]]; ok {
			day, _ = strconv.Atoi(m[1])
			month = parsed
			found = true
			break
		}
	}

	if !found {
		for _, word := range strings.Fields(lower) {
			word = strings.Trim(word, ".,!?")
			if parsed, ok := monthNames[word]; ok {
				month = parsed
				found = true
				break
			}
		}
	}

	if !found {
		return ""
	}
	if day < 1 || day > 31 {
		day = 1
	}

	year := now.Year()
	candidate := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if candidate.Before(now.Truncate(24 * time.Hour)) {
		candidate = time.Date(year+1, month, day, 0, 0, 0, 0, time.UTC)
	}
	return candidate.Format("2006-01-02")
}
