package probes

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// certExpiryWarning is how close to expiry a certificate may get before
// the probe flags it
const certExpiryWarning = 21 * 24 * time.Hour

// TLSProbe inspects the target's TLS endpoint: negotiated protocol
// version and certificate validity window.
type TLSProbe struct {
	logger arbor.ILogger
}

// NewTLSProbe creates a new TLS configuration probe
func NewTLSProbe(logger arbor.ILogger) *TLSProbe {
	return &TLSProbe{logger: logger}
}

func (p *TLSProbe) Name() string {
	return "tls"
}

func (p *TLSProbe) Run(ctx context.Context, target string, sink interfaces.ProgressSink) ([]models.Finding, error) {
	host := hostOf(target)
	sink.Report(10, "Connecting to TLS endpoint")

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: defaultDialTimeout},
		Config: &tls.Config{
			ServerName: host,
			// The point is to observe what the server negotiates, so
			// accept protocol versions a strict client would refuse.
			MinVersion:         tls.VersionTLS10,
			InsecureSkipVerify: true,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "443"))
	if err != nil {
		return nil, fmt.Errorf("tls handshake with %s failed: %w", host, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	sink.Report(50, "Inspecting TLS configuration")

	var findings []models.Finding

	if state.Version < tls.VersionTLS12 {
		findings = append(findings, models.Finding{
			Probe:       p.Name(),
			Title:       "Outdated TLS version",
			Description: fmt.Sprintf("The server negotiated %s; disable everything below TLS 1.2", tls.VersionName(state.Version)),
			Severity:    models.SeverityHigh,
			Category:    models.CategoryTLS,
			Metadata:    map[string]interface{}{"version": tls.VersionName(state.Version)},
		})
	}

	sink.Report(75, "Checking certificate validity")

	if len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		now := time.Now()

		switch {
		case now.After(cert.NotAfter):
			findings = append(findings, models.Finding{
				Probe:       p.Name(),
				Title:       "Expired TLS certificate",
				Description: fmt.Sprintf("The certificate expired on %s", cert.NotAfter.Format("2006-01-02")),
				Severity:    models.SeverityCritical,
				Category:    models.CategoryTLS,
				Metadata:    map[string]interface{}{"not_after": cert.NotAfter.Format(time.RFC3339)},
			})
		case now.Add(certExpiryWarning).After(cert.NotAfter):
			findings = append(findings, models.Finding{
				Probe:       p.Name(),
				Title:       "TLS certificate expiring soon",
				Description: fmt.Sprintf("The certificate expires on %s; renew it before clients start failing", cert.NotAfter.Format("2006-01-02")),
				Severity:    models.SeverityMedium,
				Category:    models.CategoryTLS,
				Metadata:    map[string]interface{}{"not_after": cert.NotAfter.Format(time.RFC3339)},
			})
		}

		if now.Before(cert.NotBefore) {
			findings = append(findings, models.Finding{
				Probe:       p.Name(),
				Title:       "TLS certificate not yet valid",
				Description: fmt.Sprintf("The certificate is not valid until %s", cert.NotBefore.Format("2006-01-02")),
				Severity:    models.SeverityHigh,
				Category:    models.CategoryTLS,
			})
		}
	}

	sink.Report(100, "TLS checks complete")

	p.logger.Debug().
		Str("target", target).
		Str("version", tls.VersionName(state.Version)).
		Int("findings", len(findings)).
		Msg("TLS probe finished")

	return findings, nil
}
