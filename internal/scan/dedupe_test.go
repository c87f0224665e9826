package scan

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/vigil/internal/models"
)

func TestDedupe_Idempotent(t *testing.T) {
	d := NewDeduper(nil)

	findings := []models.Finding{
		{Probe: "headers", Title: "Missing HSTS header", Severity: models.SeverityHigh, Category: models.CategoryHeaders},
		{Probe: "headers", Title: "Missing CSP header", Severity: models.SeverityMedium, Category: models.CategoryHeaders},
		{Probe: "tls", Title: "Missing HSTS header", Severity: models.SeverityHigh, Category: models.CategoryHeaders},
	}

	once := d.Dedupe(findings)
	twice := d.Dedupe(once)

	assert.Equal(t, once, twice)
	assert.Len(t, once, 2)
}

func TestDedupe_OrderIndependent(t *testing.T) {
	d := NewDeduper(nil)

	findings := []models.Finding{
		{Probe: "headers", Title: "Missing HSTS header", Severity: models.SeverityHigh, Category: models.CategoryHeaders},
		{Probe: "tls", Title: "Outdated TLS version", Severity: models.SeverityHigh, Category: models.CategoryTLS},
		{Probe: "exposure", Title: "Environment file exposed", Severity: models.SeverityCritical, Category: models.CategoryExposure},
		{Probe: "headers", Title: "missing hsts header", Severity: models.SeverityMedium, Category: models.CategoryHeaders},
		{Probe: "tls", Title: "Deprecated TLS version in use", Severity: models.SeverityMedium, Category: models.CategoryTLS},
	}

	expected := d.Dedupe(findings)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]models.Finding, len(findings))
		copy(shuffled, findings)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		assert.Equal(t, expected, d.Dedupe(shuffled))
	}
}

func TestDedupe_HigherSeverityWins(t *testing.T) {
	d := NewDeduper(nil)

	findings := []models.Finding{
		{Probe: "headers", Title: "Missing HSTS header", Severity: models.SeverityHigh, Category: models.CategoryHeaders},
		{Probe: "tls", Title: "missing  hsts   HEADER", Severity: models.SeverityCritical, Category: models.CategoryHeaders},
	}

	result := d.Dedupe(findings)
	require.Len(t, result, 1)
	assert.Equal(t, models.SeverityCritical, result[0].Severity)
	assert.Equal(t, "tls", result[0].Probe)
}

func TestDedupe_AliasesCollapseVariants(t *testing.T) {
	d := NewDeduper(nil)

	findings := []models.Finding{
		{Probe: "headers", Title: "Missing Strict-Transport-Security header", Severity: models.SeverityHigh, Category: models.CategoryHeaders},
		{Probe: "tls", Title: "HSTS header missing", Severity: models.SeverityHigh, Category: models.CategoryHeaders},
	}

	result := d.Dedupe(findings)
	assert.Len(t, result, 1)
}

func TestDedupe_ExtraAliasesFromConfig(t *testing.T) {
	d := NewDeduper(map[string]string{
		"Redis exposed to internet": "redis port open",
	})

	findings := []models.Finding{
		{Probe: "ports", Title: "Redis port open", Severity: models.SeverityCritical, Category: models.CategoryNetwork},
		{Probe: "exposure", Title: "redis EXPOSED to internet", Severity: models.SeverityHigh, Category: models.CategoryNetwork},
	}

	result := d.Dedupe(findings)
	require.Len(t, result, 1)
	assert.Equal(t, models.SeverityCritical, result[0].Severity)
}

func TestDedupe_SameTitleDifferentCategoryKept(t *testing.T) {
	d := NewDeduper(nil)

	findings := []models.Finding{
		{Probe: "a", Title: "Weak configuration", Severity: models.SeverityLow, Category: models.CategoryTLS},
		{Probe: "b", Title: "Weak configuration", Severity: models.SeverityLow, Category: models.CategoryHeaders},
	}

	assert.Len(t, d.Dedupe(findings), 2)
}

func TestDedupe_Empty(t *testing.T) {
	d := NewDeduper(nil)
	assert.Nil(t, d.Dedupe(nil))
	assert.Nil(t, d.Dedupe([]models.Finding{}))
}
