package hint

import (
	"regexp"
	"strings"
)

// Hint sources.
const (
	SourceFilename = "filename" // derived from the text of a file path
	SourceVision   = "vision"   // read off a document by the vision model
)

// Confidence contributions. The sum is not clamped: a hint
// carrying every field scores 1.4.
const (
	WeightYear  = 0.3
	WeightMake  = 0.3
	WeightModel = 0.3
	WeightVIN   = 0.5
)

// VehicleHint is a heuristic, possibly partial guess at the vehicle a file
// refers to. Empty string fields mean the signal was not found.
type VehicleHint struct {
	Year       string  `json:"year,omitempty"`
	Make       string  `json:"make,omitempty"`
	Model      string  `json:"model,omitempty"`
	VIN        string  `json:"vin,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

var (
	yearPattern = regexp.MustCompile(`\b(19[0-9]{2}|20[0-3][0-9])\b`)

	// Matched against the upper-cased path. Underscores, dashes and dots all
	// delimit a VIN, so the boundary is any non-alphanumeric rune.
	vinPattern = regexp.MustCompile(`(?:^|[^A-Z0-9])([A-HJ-NPR-Z0-9]{17})(?:[^A-Z0-9]|$)`)
)

// Extract derives a VehicleHint from a path string. Matching is
// case-insensitive and covers directory components as well as the file name.
// It returns nil when no signal is found.
func Extract(path string) *VehicleHint {
	lower := strings.ToLower(path)

	h := &VehicleHint{Source: SourceFilename}

	if m := yearPattern.FindStringSubmatch(lower); m != nil {
		h.Year = m[1]
		h.Confidence += WeightYear
	}

	if t, ok := firstMatch(lower, makes); ok {
		h.Make = t.canonical
		h.Confidence += WeightMake
	}

	if t, ok := firstMatch(lower, models); ok {
		h.Model = t.canonical
		h.Confidence += WeightModel
	}

	if m := vinPattern.FindStringSubmatch(strings.ToUpper(path)); m != nil {
		h.VIN = m[1]
		h.Confidence += WeightVIN
	}

	if h.Confidence <= 0 {
		return nil
	}
	return h
}

// firstMatch returns the first token in list order contained in s. Several
// tokens are substrings of others ("chevy"/"chevrolet", "f150"/"f-150"), so
// list order is the tie-break.
func firstMatch(s string, list []token) (token, bool) {
	for _, t := range list {
		if strings.Contains(s, t.match) {
			return t, true
		}
	}
	return token{}, false
}
