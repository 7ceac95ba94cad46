package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/reviewapps-dev/siteup/internal/health"
	"github.com/reviewapps-dev/siteup/internal/render"
)

// HTTPProber probes the site through the local web server with the site's
// Host header.
type HTTPProber struct {
	Timeout  time.Duration
	Interval time.Duration
}

func (p HTTPProber) HTTP(ctx context.Context, url, host string) error {
	return health.Check(ctx, url, host, p.Timeout, p.Interval)
}

func (p HTTPProber) WebSocket(ctx context.Context, url, host string) error {
	return health.CheckWebSocket(ctx, url, host)
}

type HealthStep struct{}

func (s *HealthStep) Name() string { return "health" }

// Run probes the live site. Failures are warnings.
func (s *HealthStep) Run(ctx *StepContext) error {
	if ctx.Config.Dev {
		ctx.Logger.Log("skipping health probe in dev mode")
		return nil
	}
	if ctx.Prober == nil {
		return nil
	}

	scheme := "http"
	switch {
	case ctx.Report.reloaded(render.KindSSLVhost):
		scheme = "https"
	case !ctx.Report.reloaded(render.KindHTTPVhost):
		return &CollaboratorError{Collaborator: "health", Op: "probe", Optional: true, Err: errors.New("no live vhost to probe")}
	}

	host := ctx.Spec.Domain
	url := scheme + "://127.0.0.1" + ctx.Spec.ProbePath
	ctx.Logger.Log("probing %s (Host: %s)", url, host)
	if err := ctx.Prober.HTTP(ctx.Ctx, url, host); err != nil {
		return &CollaboratorError{Collaborator: "health", Op: "probe " + url, Optional: true, Err: err}
	}

	if path := ctx.Spec.ProbeWebSocketPath; path != "" {
		wsScheme := "ws"
		if scheme == "https" {
			wsScheme = "wss"
		}
		wsURL := wsScheme + "://127.0.0.1" + path
		if err := ctx.Prober.WebSocket(ctx.Ctx, wsURL, host); err != nil {
			return &CollaboratorError{Collaborator: "health", Op: "probe " + wsURL, Optional: true, Err: err}
		}
	}

	ctx.Logger.Log("%s is healthy", host)
	return nil
}
