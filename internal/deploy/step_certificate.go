package deploy

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/reviewapps-dev/siteup/internal/acme"
	"github.com/reviewapps-dev/siteup/internal/render"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

// CertificateStep makes sure the TLS certificate exists and is not about to
// expire. Let's Encrypt issuance needs the HTTP vhost to be live so the
// HTTP-01 challenge can be served.
type CertificateStep struct{}

func (s *CertificateStep) Name() string { return "certificate" }

func (s *CertificateStep) Run(ctx *StepContext) error {
	tls := ctx.Spec.TLS
	switch tls.Mode {
	case spec.SSLExisting:
		ctx.Logger.Log("using existing certificate %s", tls.CertPath)
		ctx.CertificateReady = true
		return nil
	case spec.SSLLetsEncrypt, spec.SSLSelfSigned:
	default:
		return nil
	}

	fail := func(op string, err error) error {
		return &CollaboratorError{Collaborator: "ca", Op: op, Optional: true, Err: err}
	}

	within := time.Duration(ctx.Config.ACME.RenewWithinDays) * 24 * time.Hour
	renew, notAfter, err := acme.NeedsRenewal(tls.CertPath, within, time.Now())
	if err != nil {
		return fail("inspect "+tls.CertPath, err)
	}
	if !renew {
		ctx.Logger.Log("certificate %s valid until %s (%s)", tls.CertPath, notAfter.Format(time.DateOnly), humanize.Time(notAfter))
		ctx.CertificateReady = true
		return nil
	}

	ca := ctx.SelfSigned
	if tls.Mode == spec.SSLLetsEncrypt {
		switch {
		case ctx.Config.Dev:
			ctx.Warn("dev mode: issuing a self-signed stand-in instead of a Let's Encrypt certificate")
		case !ctx.Report.reloaded(render.KindHTTPVhost):
			return fail("obtain", errors.New("the HTTP vhost is not live, so the HTTP-01 challenge cannot be answered"))
		default:
			ca = ctx.LetsEncrypt
		}
	}
	if ca == nil {
		return fail("obtain", errors.New("no certificate authority configured"))
	}

	ctx.Logger.Log("obtaining %s certificate for %v", tls.Mode, ctx.Spec.Hostnames())
	cert, err := ca.Obtain(ctx.Ctx, ctx.Spec.Hostnames(), tls.Email)
	if err != nil {
		return fail("obtain", err)
	}
	if err := acme.Store(tls.CertPath, tls.KeyPath, cert); err != nil {
		return fail("store "+tls.CertPath, err)
	}
	ctx.CertificateReady = true
	ctx.Logger.Log("certificate stored in %s, expires %s", tls.CertPath, humanize.Time(cert.NotAfter))
	return nil
}
