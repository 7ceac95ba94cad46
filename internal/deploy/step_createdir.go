package deploy

import (
	"os"
)

type CreateDirStep struct{}

func (s *CreateDirStep) Name() string { return "create-dir" }

func (s *CreateDirStep) Run(ctx *StepContext) error {
	appRoot := ctx.Spec.AppRoot
	if _, err := os.Stat(appRoot); os.IsNotExist(err) {
		ctx.Logger.Log("creating app root: %s", appRoot)
	}
	for _, dir := range []string{appRoot, ctx.Config.Paths.AppLogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(appRoot)
	if err != nil {
		return err
	}
	ctx.HasSource = len(entries) > 0
	return nil
}
