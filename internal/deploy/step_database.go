package deploy

import (
	"errors"
	"path/filepath"

	"github.com/reviewapps-dev/siteup/internal/env"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

type DatabaseStep struct{}

func (s *DatabaseStep) Name() string { return "database" }

// Run provisions the database once. Credentials are merged into the app's
// .env; a DATABASE_URL already there means a previous run did the work.
func (s *DatabaseStep) Run(ctx *StepContext) error {
	engine := ctx.Spec.Database
	if engine == "" || engine == spec.DBNone {
		return nil
	}
	if ctx.Config.Dev {
		ctx.Logger.Log("skipping %s provisioning in dev mode", engine)
		return nil
	}

	envPath := filepath.Join(ctx.Spec.AppRoot, ".env")
	current, err := env.Read(envPath)
	if err != nil {
		return &CollaboratorError{Collaborator: "database", Op: "read " + envPath, Optional: true, Err: err}
	}
	if _, ok := current["DATABASE_URL"]; ok {
		ctx.Logger.Log("reusing database credentials in %s", envPath)
		return nil
	}
	if ctx.Databases == nil {
		return &CollaboratorError{Collaborator: "database", Op: "provision " + string(engine), Optional: true, Err: errors.New("no database provisioner configured")}
	}

	creds, err := ctx.Databases.Provision(ctx.Ctx, engine, ctx.Spec.ServiceID())
	if err != nil {
		return &CollaboratorError{Collaborator: "database", Op: "provision " + string(engine), Optional: true, Err: err}
	}
	if _, err := env.Merge(envPath, creds.Env()); err != nil {
		return &CollaboratorError{Collaborator: "database", Op: "write " + envPath, Optional: true, Err: err}
	}
	ctx.Logger.Log("%s database %s ready, credentials in %s", engine, creds.Name, envPath)
	return nil
}
