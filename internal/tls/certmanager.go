package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/caddyserver/certmagic"
)

// CertManager manages automatic TLS certificates via certmagic with on-demand
// provisioning.  A wildcard honeypot must only answer for its own domains;
// provisioning certs for arbitrary SNI names would make it an open responder.
type CertManager struct {
	logger  *slog.Logger
	cfg     *certmagic.Config
	domains map[string]bool
}

// NewCertManager creates a CertManager restricted to the configured domains.
func NewCertManager(domains []string, acmeEmail string, production bool, logger *slog.Logger) *CertManager {
	certmagic.DefaultACME.Email = acmeEmail
	certmagic.DefaultACME.Agreed = true

	if !production {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	allowed := make(map[string]bool, len(domains))
	for _, d := range domains {
		allowed[d] = true
	}

	cfg := certmagic.NewDefault()
	cm := &CertManager{logger: logger, cfg: cfg, domains: allowed}

	cfg.OnDemand = &certmagic.OnDemandConfig{
		DecisionFunc: cm.allowCert,
	}

	return cm
}

// allowCert is the on-demand decision function that checks whether a certificate
// should be provisioned for the given domain name.
func (cm *CertManager) allowCert(ctx context.Context, name string) error {
	if !cm.domains[name] {
		return fmt.Errorf("unknown domain: %s", name)
	}
	return nil
}

// ListenAndServe starts an HTTPS server using certmagic's TLS configuration.
// It pre-manages the configured domains, then serves the handler over TLS.
func (cm *CertManager) ListenAndServe(handler http.Handler) error {
	domains := make([]string, 0, len(cm.domains))
	for d := range cm.domains {
		domains = append(domains, d)
	}

	cm.logger.Info("starting TLS server", "domains", domains)

	// Pre-manage known domains so their certs are ready immediately
	if len(domains) > 0 {
		if err := cm.cfg.ManageSync(context.Background(), domains); err != nil {
			return fmt.Errorf("manage known domains: %w", err)
		}
	}

	// Create TLS listener using certmagic's TLS config
	tlsCfg := cm.cfg.TLSConfig()
	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", certmagic.HTTPSPort), tlsCfg)
	if err != nil {
		return fmt.Errorf("tls listen: %w", err)
	}

	cm.logger.Info("serving HTTPS", "port", certmagic.HTTPSPort)
	return http.Serve(ln, handler)
}

// TLSConfig returns the certmagic config for use with custom listeners.
func (cm *CertManager) TLSConfig() *certmagic.Config {
	return cm.cfg
}
