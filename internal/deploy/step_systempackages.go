package deploy

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/reviewapps-dev/siteup/internal/shell"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

var lookPath = exec.LookPath

// globalTools are node tools installed with npm when missing.
var globalTools = map[spec.PackageManager]string{
	spec.PNPM: "pnpm",
	spec.Yarn: "yarn",
	spec.Bun:  "bun",
}

type SystemPackagesStep struct{}

func (s *SystemPackagesStep) Name() string { return "system-packages" }

// packages returns the generic package names the spec needs. Optional
// packages only produce a warning when they cannot be installed.
func packages(sp *spec.DeploymentSpec) (required, optional []string) {
	switch sp.WebServer {
	case spec.Apache:
		required = append(required, "apache")
	default:
		required = append(required, "nginx")
	}
	switch {
	case sp.AppKind.UsesNode():
		required = append(required, "nodejs", "npm")
	case sp.AppKind == spec.KindPython:
		required = append(required, "python3-venv")
	case sp.AppKind == spec.KindPHP:
		required = append(required, "php-fpm")
	}
	if sp.FirewallEnabled {
		required = append(required, "ufw")
	}
	switch sp.Database {
	case spec.MySQL:
		optional = append(optional, "mysql")
	case spec.PostgreSQL:
		optional = append(optional, "postgresql")
	}
	if sp.TLS.Mode == spec.SSLLetsEncrypt {
		optional = append(optional, "cron")
	}
	return required, optional
}

func (s *SystemPackagesStep) Run(ctx *StepContext) error {
	required, optional := packages(ctx.Spec)

	if ctx.Config.Dev {
		ctx.Logger.Log("skipping in dev mode (ensure these are installed: %s)", strings.Join(append(required, optional...), ", "))
		return nil
	}
	if ctx.Packages == nil {
		return &CollaboratorError{Collaborator: "package-manager", Op: "detect", Err: fmt.Errorf("no supported package manager")}
	}

	ctx.Logger.Log("ensuring system packages: %s", strings.Join(required, ", "))
	for _, generic := range required {
		name := ctx.Packages.PackageName(generic)
		if err := ctx.Packages.Install(ctx.Ctx, name); err != nil {
			return &CollaboratorError{Collaborator: "package-manager", Op: "install " + name, Err: err}
		}
	}
	for _, generic := range optional {
		name := ctx.Packages.PackageName(generic)
		if err := ctx.Packages.Install(ctx.Ctx, name); err != nil {
			ctx.Warn("package-manager: install %s: %v", name, err)
		}
	}

	var tools []string
	if tool, ok := globalTools[ctx.Spec.PackageManager]; ok {
		tools = append(tools, tool)
	}
	if ctx.Spec.ProcessManager == spec.ProcPM2 {
		tools = append(tools, "pm2")
	}
	for _, tool := range tools {
		if _, err := lookPath(tool); err == nil {
			continue
		}
		ctx.Logger.Log("installing %s with npm", tool)
		if _, err := ctx.Runner.Run(ctx.Ctx, shell.Command("npm", "install", "-g", tool)); err != nil {
			return &CollaboratorError{Collaborator: "package-manager", Op: "npm install -g " + tool, Err: err}
		}
	}
	return nil
}
