package probes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// exposureCheck is one well-known path that must not be served
type exposureCheck struct {
	path     string
	title    string
	severity models.Severity
}

var exposureChecks = []exposureCheck{
	{"/.env", "Environment file exposed", models.SeverityCritical},
	{"/.git/config", "Git repository metadata exposed", models.SeverityHigh},
	{"/.git/HEAD", "Git repository metadata exposed", models.SeverityHigh},
	{"/config.json", "Configuration file exposed", models.SeverityMedium},
	{"/wp-config.php.bak", "Configuration backup exposed", models.SeverityCritical},
	{"/backup.sql", "Database dump exposed", models.SeverityCritical},
	{"/.DS_Store", "Directory metadata file exposed", models.SeverityLow},
	{"/server-status", "Server status page exposed", models.SeverityMedium},
}

// ExposureProbe requests well-known sensitive paths under the web root
// and reports any that the server actually serves.
type ExposureProbe struct {
	client *http.Client
	logger arbor.ILogger
}

// NewExposureProbe creates a new sensitive-path exposure probe
func NewExposureProbe(logger arbor.ILogger) *ExposureProbe {
	return &ExposureProbe{
		client: &http.Client{
			Timeout: 15 * time.Second,
			// A redirect to a login page is not an exposure; judge the
			// direct response only.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

func (p *ExposureProbe) Name() string {
	return "exposure"
}

func (p *ExposureProbe) Run(ctx context.Context, target string, sink interfaces.ProgressSink) ([]models.Finding, error) {
	base := baseURL(target)

	var findings []models.Finding
	reachable := false
	for i, check := range exposureChecks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sink.Report(100*i/len(exposureChecks), fmt.Sprintf("Checking %s", check.path))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+check.path, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid target url: %w", err)
		}
		req.Header.Set("User-Agent", "vigil-scanner/1.0")

		resp, err := p.client.Do(req)
		if err != nil {
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		reachable = true

		if resp.StatusCode == http.StatusOK {
			findings = append(findings, models.Finding{
				Probe:       p.Name(),
				Title:       check.title,
				Description: fmt.Sprintf("%s is served with HTTP 200; remove it from the web root or deny access to it", check.path),
				Severity:    check.severity,
				Category:    models.CategoryExposure,
				Metadata:    map[string]interface{}{"path": check.path, "status": resp.StatusCode},
			})
		}
	}

	if !reachable {
		return nil, fmt.Errorf("target %s unreachable over http", base)
	}

	sink.Report(100, "Exposure checks complete")

	p.logger.Debug().
		Str("target", target).
		Int("findings", len(findings)).
		Msg("Exposure probe finished")

	return findings, nil
}
