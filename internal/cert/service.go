// Package cert drives the external ACME client to obtain and renew TLS
// certificates for the public domain, and nudges the reverse proxy to pick
// renewed material up.
package cert

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/reportstack/opsctl/internal/config"
)

// Orchestrator is the slice of the compose runner the cert service uses.
type Orchestrator interface {
	RunRm(ctx context.Context, service string, cmd ...string) error
}

// ProxySignaler reloads the reverse proxy without a restart.
type ProxySignaler interface {
	Signal(ctx context.Context, name, signal string) error
}

// Service issues and renews certificates through the certbot compose
// service and reloads nginx afterwards.
type Service struct {
	cfg    config.Config
	orch   Orchestrator
	proxy  ProxySignaler
	logger *slog.Logger

	proxyContainer string
}

// New builds a certificate service. proxyContainer is the runtime container
// name of the reverse proxy (resolved from the compose file).
func New(cfg config.Config, orch Orchestrator, proxy ProxySignaler, proxyContainer string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, orch: orch, proxy: proxy, logger: logger, proxyContainer: proxyContainer}
}

// Issue obtains a certificate for the configured domain via the certbot
// service in webroot mode, then reloads the proxy. Configuration is
// validated before the ACME client runs.
func (s *Service) Issue(ctx context.Context) error {
	if err := s.cfg.Validate(config.ScopeCerts); err != nil {
		return err
	}
	args := []string{
		"certonly",
		"--webroot",
		"--webroot-path", "/var/www/certbot",
		"--email", s.cfg.AcmeEmail,
		"--agree-tos",
		"--no-eff-email",
		"-d", s.cfg.Domain,
	}
	if s.cfg.CertStaging {
		args = append(args, "--staging")
	}
	s.logger.Info("requesting certificate", "domain", s.cfg.Domain, "staging", s.cfg.CertStaging)
	if err := s.orch.RunRm(ctx, s.cfg.CertbotSvc, args...); err != nil {
		return fmt.Errorf("certificate issuance failed: %w", err)
	}
	return s.reloadProxy(ctx)
}

// Renew asks the ACME client to renew anything close to expiry and reloads
// the proxy when it succeeds.
func (s *Service) Renew(ctx context.Context) error {
	if err := s.cfg.Validate(config.ScopeCerts); err != nil {
		return err
	}
	s.logger.Info("renewing certificates", "domain", s.cfg.Domain)
	if err := s.orch.RunRm(ctx, s.cfg.CertbotSvc, "renew"); err != nil {
		return fmt.Errorf("certificate renewal failed: %w", err)
	}
	return s.reloadProxy(ctx)
}

func (s *Service) reloadProxy(ctx context.Context) error {
	if s.proxy == nil || s.proxyContainer == "" {
		return nil
	}
	if err := s.proxy.Signal(ctx, s.proxyContainer, "HUP"); err != nil {
		return fmt.Errorf("reload proxy after certificate change: %w", err)
	}
	s.logger.Info("proxy reloaded", "container", s.proxyContainer)
	return nil
}

// chainPath is where certbot leaves the live certificate for the domain.
func (s *Service) chainPath() string {
	return filepath.Join(s.cfg.CertDir, "live", s.cfg.Domain, "fullchain.pem")
}

// Expiry reports the NotAfter of the live certificate for the domain.
func (s *Service) Expiry() (time.Time, error) {
	return certificateExpiry(s.chainPath())
}

// NeedsRenewal reports whether the live certificate is missing or expires
// within the configured renewal window.
func (s *Service) NeedsRenewal(now time.Time) (bool, error) {
	expiry, err := certificateExpiry(s.chainPath())
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return now.Add(s.cfg.RenewalWindow).After(expiry), nil
}

func certificateExpiry(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, fmt.Errorf("no certificate found in %s", path)
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse certificate %s: %w", path, err)
	}
	return parsed.NotAfter, nil
}
