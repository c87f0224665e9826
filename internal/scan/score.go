package scan

import (
	"math"
	"sort"

	"github.com/ternarybob/vigil/internal/models"
)

const baseScore = 100

// severityPenalties is the fixed per-finding deduction. Category never
// affects the total, only the per-category breakdown.
var severityPenalties = map[models.Severity]int{
	models.SeverityCritical: 30,
	models.SeverityHigh:     15,
	models.SeverityMedium:   5,
	models.SeverityLow:      1,
	models.SeverityInfo:     0,
}

// categoryWeights scale the per-category breakdown: a category with a
// smaller weight degrades faster for the same penalties. Unrecognized
// categories fall back to the smallest weight.
var categoryWeights = map[models.Category]float64{
	models.CategoryHeaders:     100,
	models.CategoryTLS:         80,
	models.CategoryNetwork:     80,
	models.CategoryExposure:    60,
	models.CategoryApplication: 100,
}

const defaultCategoryWeight = 60

// gradeFor maps the final total to a letter grade. Thresholds are fixed
// constants, not configurable per call.
func gradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 50:
		return "C"
	default:
		return "D"
	}
}

var categoryRecommendations = map[models.Category]string{
	models.CategoryHeaders:     "Set the missing security headers (HSTS, CSP, anti-framing, nosniff) on all responses",
	models.CategoryTLS:         "Disable legacy TLS versions and renew certificates well before expiry",
	models.CategoryNetwork:     "Close or firewall service ports that do not need public exposure",
	models.CategoryExposure:    "Remove exposed configuration and VCS files from the web root",
	models.CategoryApplication: "Review application-level findings and patch the affected components",
}

// Score maps a finding set to a numeric score, letter grade and
// per-category breakdown. Pure and deterministic: no I/O, same input
// always yields the same result. An empty finding set scores 100/A.
func Score(findings []models.Finding) *models.ScanResult {
	totalPenalty := 0
	categoryPenalties := make(map[models.Category]int)
	severityCounts := make(map[string]int)

	for _, f := range findings {
		penalty := severityPenalties[f.Severity]
		totalPenalty += penalty
		categoryPenalties[f.Category] += penalty
		severityCounts[string(f.Severity)]++
	}

	breakdown := make(map[string]int, len(categoryPenalties))
	for category, penalty := range categoryPenalties {
		weight, ok := categoryWeights[category]
		if !ok {
			weight = defaultCategoryWeight
		}
		score := 100 - int(math.Round(float64(penalty)/weight*100))
		if score < 0 {
			score = 0
		}
		breakdown[string(category)] = score
	}

	total := baseScore - totalPenalty
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	return &models.ScanResult{
		Score:           total,
		Grade:           gradeFor(total),
		Breakdown:       breakdown,
		SeverityCounts:  severityCounts,
		FindingCount:    len(findings),
		Recommendations: recommendationsFor(categoryPenalties),
	}
}

// recommendationsFor returns fixed advice for each category that
// accumulated penalties, in deterministic order
func recommendationsFor(categoryPenalties map[models.Category]int) []string {
	categories := make([]string, 0, len(categoryPenalties))
	for category, penalty := range categoryPenalties {
		if penalty > 0 {
			categories = append(categories, string(category))
		}
	}
	sort.Strings(categories)

	recommendations := make([]string, 0, len(categories))
	for _, category := range categories {
		if rec, ok := categoryRecommendations[models.Category(category)]; ok {
			recommendations = append(recommendations, rec)
		}
	}
	return recommendations
}
