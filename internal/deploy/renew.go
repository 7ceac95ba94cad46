package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/reviewapps-dev/siteup/internal/acme"
	"github.com/reviewapps-dev/siteup/internal/activate"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

// Renew re-issues the Let's Encrypt certificate of s when it expires within
// the configured window, then validates and reloads the web server. renewed
// is false when the certificate is still good.
func (p *Pipeline) Renew(ctx context.Context, s *spec.DeploymentSpec) (renewed bool, err error) {
	cfg := p.deps.Config
	logger := p.deps.Logger.With("domain", s.Domain)

	if s.TLS.Mode != spec.SSLLetsEncrypt {
		return false, fmt.Errorf("renew %s: tls mode is %s, not letsencrypt", s.Domain, s.TLS.Mode)
	}

	within := time.Duration(cfg.ACME.RenewWithinDays) * 24 * time.Hour
	due, notAfter, err := acme.NeedsRenewal(s.TLS.CertPath, within, p.deps.Now())
	if err != nil {
		return false, fmt.Errorf("renew %s: %w", s.Domain, err)
	}
	if !due {
		logger.Log("certificate valid until %s (%s), nothing to do", notAfter.Format(time.DateOnly), humanize.Time(notAfter))
		return false, nil
	}

	ca := p.deps.LetsEncrypt
	if cfg.Dev {
		logger.Warn("dev mode: issuing a self-signed stand-in instead of a Let's Encrypt certificate")
		ca = p.deps.SelfSigned
	}
	if ca == nil {
		return false, errors.New("renew: no certificate authority configured")
	}

	logger.Log("renewing certificate for %v", s.Hostnames())
	cert, err := ca.Obtain(ctx, s.Hostnames(), s.TLS.Email)
	if err != nil {
		return false, &CollaboratorError{Collaborator: "ca", Op: "obtain", Err: err}
	}
	if err := acme.Store(s.TLS.CertPath, s.TLS.KeyPath, cert); err != nil {
		return false, fmt.Errorf("renew %s: %w", s.Domain, err)
	}

	ctl := activate.New(p.deps.Runner, webFor(cfg, s), nil, nil)
	if err := ctl.ReloadWebServer(ctx); err != nil {
		return true, fmt.Errorf("renew %s: certificate stored but the web server was not reloaded: %w", s.Domain, err)
	}
	logger.Log("certificate renewed, expires %s", cert.NotAfter.Format(time.DateOnly))
	return true, nil
}
