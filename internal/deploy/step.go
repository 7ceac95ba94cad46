package deploy

import (
	"context"
	"fmt"

	"github.com/reviewapps-dev/siteup/internal/acme"
	"github.com/reviewapps-dev/siteup/internal/activate"
	"github.com/reviewapps-dev/siteup/internal/config"
	"github.com/reviewapps-dev/siteup/internal/database"
	"github.com/reviewapps-dev/siteup/internal/git"
	"github.com/reviewapps-dev/siteup/internal/logging"
	"github.com/reviewapps-dev/siteup/internal/render"
	"github.com/reviewapps-dev/siteup/internal/shell"
	"github.com/reviewapps-dev/siteup/internal/spec"
	"github.com/reviewapps-dev/siteup/internal/supervisor"
	"github.com/reviewapps-dev/siteup/internal/writer"
)

type Step interface {
	Name() string
	Run(ctx *StepContext) error
}

// Packages installs system packages by generic name.
type Packages interface {
	PackageName(generic string) string
	Install(ctx context.Context, name string) error
}

type Databases interface {
	Provision(ctx context.Context, engine spec.Database, serviceID string) (database.Credentials, error)
}

// Prober checks that the site answers once it is live.
type Prober interface {
	HTTP(ctx context.Context, url, host string) error
	WebSocket(ctx context.Context, url, host string) error
}

// CollaboratorError reports a failed host tool or service. Optional
// collaborators only produce warnings.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Optional     bool
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

type StepContext struct {
	Ctx context.Context

	Spec     *spec.DeploymentSpec
	Config   *config.Config
	Logger   *logging.Logger
	Runner   shell.Runner
	Renderer *render.Renderer
	Writer   *writer.Writer
	Activate *activate.Controller

	Packages    Packages
	Git         *git.Client
	Databases   Databases
	LetsEncrypt acme.CA
	SelfSigned  acme.CA
	Prober      Prober
	Supervisor  supervisor.Supervisor

	Report *Report

	// Enriched during pipeline
	CertificateReady bool
	// HasSource is false when the app root holds no code to install or build.
	HasSource bool
}

// Warn records a non-fatal problem in the run report.
func (c *StepContext) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Logger.Warn("%s", msg)
	c.Report.Warnings = append(c.Report.Warnings, msg)
}

// command runs a program inside the app root.
func (c *StepContext) command(cmd spec.Command, env ...string) (string, error) {
	return c.Runner.Run(c.Ctx, shell.Command(cmd.Tool, cmd.Args...).In(c.Spec.AppRoot).WithEnv(env...))
}
