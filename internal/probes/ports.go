package probes

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// riskyPorts maps services that rarely belong on the public internet to
// the severity of finding them open
var riskyPorts = []struct {
	port     int
	service  string
	severity models.Severity
}{
	{21, "FTP", models.SeverityHigh},
	{23, "Telnet", models.SeverityCritical},
	{25, "SMTP", models.SeverityLow},
	{110, "POP3", models.SeverityLow},
	{445, "SMB", models.SeverityCritical},
	{1433, "MS SQL Server", models.SeverityHigh},
	{3306, "MySQL", models.SeverityHigh},
	{3389, "RDP", models.SeverityHigh},
	{5432, "PostgreSQL", models.SeverityHigh},
	{6379, "Redis", models.SeverityCritical},
	{9200, "Elasticsearch", models.SeverityHigh},
	{27017, "MongoDB", models.SeverityCritical},
}

// PortsProbe checks a short list of service ports that should not be
// reachable from the public internet. Not a full port scan - just the
// ports whose exposure is almost always a mistake.
type PortsProbe struct {
	logger arbor.ILogger
}

// NewPortsProbe creates a new exposed-ports probe
func NewPortsProbe(logger arbor.ILogger) *PortsProbe {
	return &PortsProbe{logger: logger}
}

func (p *PortsProbe) Name() string {
	return "ports"
}

func (p *PortsProbe) Run(ctx context.Context, target string, sink interfaces.ProgressSink) ([]models.Finding, error) {
	host := hostOf(target)
	if host == "" {
		return nil, fmt.Errorf("no host in target %q", target)
	}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}

	var findings []models.Finding
	for i, check := range riskyPorts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sink.Report(100*i/len(riskyPorts), fmt.Sprintf("Checking port %d (%s)", check.port, check.service))

		addr := net.JoinHostPort(host, strconv.Itoa(check.port))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			// Closed or filtered, which is what we want
			continue
		}
		conn.Close()

		findings = append(findings, models.Finding{
			Probe:       p.Name(),
			Title:       fmt.Sprintf("%s port %d is publicly reachable", check.service, check.port),
			Description: fmt.Sprintf("Port %d (%s) accepts connections from the internet; firewall it or bind the service to an internal interface", check.port, check.service),
			Severity:    check.severity,
			Category:    models.CategoryNetwork,
			Metadata:    map[string]interface{}{"port": check.port, "service": check.service},
		})
	}

	sink.Report(100, "Port checks complete")

	p.logger.Debug().
		Str("target", target).
		Int("findings", len(findings)).
		Msg("Ports probe finished")

	return findings, nil
}
