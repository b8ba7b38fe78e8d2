package transport

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"time"
)

// CertStatus describes the leaf certificate served by the ingest endpoint.
type CertStatus struct {
	Host     string
	Status   string // valid | expiring | expired | unreachable
	Issuer   string
	NotAfter time.Time
	DaysLeft int
}

// CertExpiryWindow is how close to NotAfter a certificate counts as expiring.
const CertExpiryWindow = 30 * 24 * time.Hour

// CheckCert dials the DSN host over TLS and inspects the leaf certificate.
//
// Returns nil for http DSNs. Uses a 10-second dial timeout so an unreachable
// host does not hold up startup.
func CheckCert(ctx context.Context, d *DSN, c *TLSConfig) *CertStatus {
	if d == nil || d.Scheme != "https" {
		return nil
	}

	host := d.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	cs := &CertStatus{Host: host}

	cfg := &tls.Config{}
	if c != nil {
		var err error
		if cfg, err = buildTLSConfig(c); err != nil {
			cs.Status = "unreachable"
			return cs
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = "unreachable"
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = "unreachable"
		return cs
	}

	leaf := peerCerts[0]
	left := time.Until(leaf.NotAfter)
	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = "expired"
	case left <= CertExpiryWindow:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}
