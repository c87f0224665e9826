package scan

import (
	"sort"
	"strings"

	"github.com/ternarybob/vigil/internal/models"
)

// defaultTitleAliases collapses known naming variants of the same issue
// to one canonical token before keying. Probes name the same problem
// differently; new duplicate patterns keep appearing as probes change,
// so operators can extend this table via [dedupe] aliases in config.
var defaultTitleAliases = map[string]string{
	"missing strict-transport-security header": "missing hsts header",
	"strict-transport-security not set":        "missing hsts header",
	"hsts header missing":                      "missing hsts header",
	"missing content-security-policy header":   "missing csp header",
	"content-security-policy not set":          "missing csp header",
	"csp header missing":                       "missing csp header",
	"missing x-frame-options header":           "missing anti-framing header",
	"x-frame-options not set":                  "missing anti-framing header",
	"missing x-content-type-options header":    "missing nosniff header",
	"x-content-type-options not set":           "missing nosniff header",
	"outdated tls version":                     "weak tls version",
	"deprecated tls version in use":            "weak tls version",
}

// Deduper merges findings across probes into a canonical set.
// Dedupe is a pure function of its input: no I/O, order-independent,
// idempotent.
type Deduper struct {
	aliases map[string]string
}

// NewDeduper builds a deduplicator with the built-in alias rules merged
// with any extra rules from configuration. Extra rules win on conflict.
func NewDeduper(extraAliases map[string]string) *Deduper {
	aliases := make(map[string]string, len(defaultTitleAliases)+len(extraAliases))
	for k, v := range defaultTitleAliases {
		aliases[normalizeTitle(k)] = normalizeTitle(v)
	}
	for k, v := range extraAliases {
		aliases[normalizeTitle(k)] = normalizeTitle(v)
	}
	return &Deduper{aliases: aliases}
}

// Dedupe collapses findings that share a canonical key, keeping the one
// with the higher severity. Equal-severity ties go to the finding that
// sorts first under a fixed deterministic order, so any permutation of
// the same input multiset yields the same result.
func (d *Deduper) Dedupe(findings []models.Finding) []models.Finding {
	if len(findings) == 0 {
		return nil
	}

	// Fixed iteration order: higher severity first, then a stable
	// lexical tie-break. Scanning in this order makes "first encountered
	// wins" independent of input order.
	sorted := make([]models.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		if a.Probe != b.Probe {
			return a.Probe < b.Probe
		}
		return a.Description < b.Description
	})

	seen := make(map[string]struct{}, len(sorted))
	result := make([]models.Finding, 0, len(sorted))
	for _, f := range sorted {
		key := d.canonicalKey(f)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, f)
	}

	return result
}

// canonicalKey pairs the normalized, alias-resolved title with the
// finding's category.
func (d *Deduper) canonicalKey(f models.Finding) string {
	title := normalizeTitle(f.Title)
	if canonical, ok := d.aliases[title]; ok {
		title = canonical
	}
	return title + "|" + string(f.Category)
}

// normalizeTitle lowercases and collapses all whitespace runs
func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
