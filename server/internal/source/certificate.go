package source

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

const (
	defaultWarnDays = 30
	certDialTimeout = 10 * time.Second
)

// CertificateExpiry inspects the leaf certificate of each HTTPS endpoint and
// raises CertificateExpiring or CertificateExpired.
type CertificateExpiry struct {
	endpoints []string
	warnDays  int
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewCertificateExpiry returns the certificate source. warnDays <= 0 means 30.
func NewCertificateExpiry(endpoints []string, warnDays int, interval time.Duration, logger *zap.Logger) *CertificateExpiry {
	if warnDays <= 0 {
		warnDays = defaultWarnDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateExpiry{
		endpoints: endpoints,
		warnDays:  warnDays,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Name is not a class name: this source produces two classes.
func (c *CertificateExpiry) Name() string { return "CertificateExpiry" }

func (c *CertificateExpiry) Interval() time.Duration { return c.interval }

// Check never fails as a whole. An endpoint that cannot be reached produces
// no alert.
func (c *CertificateExpiry) Check(ctx context.Context) ([]*alerts.Alert, error) {
	var out []*alerts.Alert
	for _, ep := range c.endpoints {
		leaf, err := peerCertificate(ctx, ep)
		if err != nil {
			c.logger.Debug("certificate endpoint unreachable", zap.String("endpoint", ep), zap.Error(err))
			continue
		}
		if a := c.evaluate(ep, leaf); a != nil {
			out = append(out, a)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (c *CertificateExpiry) evaluate(endpoint string, leaf *x509.Certificate) *alerts.Alert {
	daysLeft := leaf.NotAfter.Sub(c.now()).Hours() / 24
	args := map[string]any{
		"endpoint":  endpoint,
		"days":      int(math.Floor(daysLeft)),
		"not_after": leaf.NotAfter.UTC().Format(time.RFC3339),
		"issuer":    leaf.Issuer.CommonName,
	}
	var a *alerts.Alert
	switch {
	case daysLeft <= 0:
		a = alerts.New(alerts.CertificateExpired, args)
	case daysLeft <= float64(c.warnDays):
		a = alerts.New(alerts.CertificateExpiring, args)
	default:
		return nil
	}
	a.Key = endpoint
	return a
}

// peerCertificate dials the TLS endpoint and returns its leaf certificate.
// Verification is skipped so expired certificates can still be inspected.
func peerCertificate(ctx context.Context, endpoint string) (*x509.Certificate, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q", endpoint)
	}
	if u.Scheme != "https" {
		return nil, errors.Newf("%q is not an https endpoint", endpoint)
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, certDialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: true, //nolint:gosec // inspection only
		},
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", host)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, errors.Newf("%s presented no certificate", host)
	}
	return certs[0], nil
}
