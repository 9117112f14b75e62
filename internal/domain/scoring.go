package domain

import (
	"fmt"
	"math"
	"strings"
)

const (
	// MinRating and MaxRating bound likelihood, impact and effectiveness.
	MinRating = 1
	MaxRating = 5
	// DefaultRating is used when the model omits likelihood or impact.
	DefaultRating = 3

	// maxReduction is the share of a rating removed by fully effective controls.
	maxReduction = 0.7
)

// ClampRating returns r limited to [MinRating, MaxRating], or def when r is zero.
func ClampRating(r, def int) int {
	if r == 0 {
		return def
	}
	return min(max(r, MinRating), MaxRating)
}

// Residual computes residual likelihood and impact from the effectiveness of
// every control linked to a risk:
//
//	reduction = (mean(effectiveness) / 5) * 0.7
//	residual  = max(1, round(inherent * (1 - reduction)))
//
// applied independently to likelihood and impact. With no controls the
// inherent ratings are returned unchanged.
func Residual(likelihood, impact int, effectiveness []int) (int, int) {
	if len(effectiveness) == 0 {
		return likelihood, impact
	}
	var sum int
	for _, e := range effectiveness {
		sum += e
	}
	avg := float64(sum) / float64(len(effectiveness))
	reduction := (avg / MaxRating) * maxReduction
	reduce := func(v int) int {
		return max(1, int(math.Round(float64(v)*(1-reduction))))
	}
	return reduce(likelihood), reduce(impact)
}

// severityRatings maps an external alert severity onto (likelihood, impact).
var severityRatings = map[string][2]int{
	"critical": {5, 5},
	"high":     {4, 4},
	"medium":   {3, 3},
	"moderate": {3, 3},
	"low":      {2, 2},
}

// SeverityRating returns the coarse likelihood and impact for an alert severity.
// Unknown severities land just below medium.
func SeverityRating(severity string) (likelihood, impact int) {
	if r, ok := severityRatings[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return r[0], r[1]
	}
	return 2, 3
}

// NormalizeFrameworkCode uppercases code and keeps only [A-Z0-9_-]; whitespace becomes '-'.
func NormalizeFrameworkCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune('-')
		}
	}
	return b.String()
}

// FormatRef builds a sequential human-readable identifier such as RISK-0012.
func FormatRef(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}
