package deploy

type InstallDepsStep struct{}

func (s *InstallDepsStep) Name() string { return "install-deps" }

func (s *InstallDepsStep) Run(ctx *StepContext) error {
	if len(ctx.Spec.Install) == 0 {
		return nil
	}
	if !ctx.HasSource {
		ctx.Logger.Log("no application code in %s, skipping", ctx.Spec.AppRoot)
		return nil
	}

	for _, c := range ctx.Spec.Install {
		ctx.Logger.Log("running %s", c)
		if _, err := ctx.command(c); err != nil {
			return &CollaboratorError{Collaborator: "install", Op: c.String(), Err: err}
		}
	}
	ctx.Logger.Log("dependencies installed")
	return nil
}

type BuildStep struct{}

func (s *BuildStep) Name() string { return "build" }

func (s *BuildStep) Run(ctx *StepContext) error {
	c := ctx.Spec.BuildCommand
	if c.IsZero() {
		return nil
	}
	if !ctx.HasSource {
		ctx.Logger.Log("no application code in %s, skipping", ctx.Spec.AppRoot)
		return nil
	}

	ctx.Logger.Log("running %s", c)
	if _, err := ctx.command(c, "NODE_ENV=production"); err != nil {
		return &CollaboratorError{Collaborator: "build", Op: c.String(), Err: err}
	}
	ctx.Logger.Log("build complete")
	return nil
}
