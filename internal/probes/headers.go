package probes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// headerCheck describes one response header the probe expects to see
type headerCheck struct {
	header   string
	title    string
	severity models.Severity
	advice   string
}

var headerChecks = []headerCheck{
	{
		header:   "Strict-Transport-Security",
		title:    "Missing Strict-Transport-Security header",
		severity: models.SeverityHigh,
		advice:   "Add an HSTS header so browsers refuse to downgrade to plain HTTP",
	},
	{
		header:   "Content-Security-Policy",
		title:    "Missing Content-Security-Policy header",
		severity: models.SeverityMedium,
		advice:   "Define a CSP to restrict where scripts, styles and frames may load from",
	},
	{
		header:   "X-Frame-Options",
		title:    "Missing X-Frame-Options header",
		severity: models.SeverityMedium,
		advice:   "Set X-Frame-Options or a frame-ancestors CSP directive to block clickjacking",
	},
	{
		header:   "X-Content-Type-Options",
		title:    "Missing X-Content-Type-Options header",
		severity: models.SeverityLow,
		advice:   "Set X-Content-Type-Options: nosniff to stop MIME sniffing",
	},
	{
		header:   "Referrer-Policy",
		title:    "Missing Referrer-Policy header",
		severity: models.SeverityLow,
		advice:   "Set a Referrer-Policy to limit URL leakage to third parties",
	},
}

// HeadersProbe fetches the target over HTTPS and reports missing or
// revealing response headers.
type HeadersProbe struct {
	client *http.Client
	logger arbor.ILogger
}

// NewHeadersProbe creates a new security headers probe
func NewHeadersProbe(logger arbor.ILogger) *HeadersProbe {
	return &HeadersProbe{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (p *HeadersProbe) Name() string {
	return "headers"
}

func (p *HeadersProbe) Run(ctx context.Context, target string, sink interfaces.ProgressSink) ([]models.Finding, error) {
	sink.Report(5, "Fetching response headers")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(target), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	req.Header.Set("User-Agent", "vigil-scanner/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch target: %w", err)
	}
	defer resp.Body.Close()

	sink.Report(40, "Checking security headers")

	var findings []models.Finding
	for i, check := range headerChecks {
		if resp.Header.Get(check.header) == "" {
			findings = append(findings, models.Finding{
				Probe:       p.Name(),
				Title:       check.title,
				Description: check.advice,
				Severity:    check.severity,
				Category:    models.CategoryHeaders,
				Metadata:    map[string]interface{}{"header": check.header},
			})
		}
		sink.Report(40+50*(i+1)/len(headerChecks), "Checking security headers")
	}

	// Version banners help attackers pick exploits; flag them quietly.
	if server := resp.Header.Get("Server"); server != "" && len(server) > len("nginx") {
		findings = append(findings, models.Finding{
			Probe:       p.Name(),
			Title:       "Server header reveals software details",
			Description: fmt.Sprintf("The Server header exposes %q; trim it to the bare product name or remove it", server),
			Severity:    models.SeverityInfo,
			Category:    models.CategoryHeaders,
			Metadata:    map[string]interface{}{"server": server},
		})
	}

	sink.Report(100, "Header checks complete")

	p.logger.Debug().
		Str("target", target).
		Int("findings", len(findings)).
		Msg("Headers probe finished")

	return findings, nil
}
