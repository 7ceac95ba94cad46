package deploy

type GitSourceStep struct{}

func (s *GitSourceStep) Name() string { return "git-source" }

func (s *GitSourceStep) Run(ctx *StepContext) error {
	src := ctx.Spec.Git
	if src == nil {
		ctx.Logger.Log("no git source, using %s as is", ctx.Spec.AppRoot)
		return nil
	}

	ctx.Logger.Log("syncing %s (branch: %s) into %s", src.RepoURL, src.Branch, ctx.Spec.AppRoot)
	if err := ctx.Git.CloneOrUpdate(ctx.Ctx, src.RepoURL, src.Branch, ctx.Spec.AppRoot); err != nil {
		return &CollaboratorError{Collaborator: "git", Op: "clone " + src.RepoURL, Err: err}
	}
	ctx.HasSource = true

	sha, err := ctx.Git.CommitSHA(ctx.Ctx, ctx.Spec.AppRoot)
	if err == nil && sha != "" {
		ctx.Report.Commit = sha
		ctx.Logger.Log("commit: %s", sha)
	}
	return nil
}
