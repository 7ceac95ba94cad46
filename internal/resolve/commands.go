package resolve

import (
	"path/filepath"
	"strconv"

	"github.com/reviewapps-dev/siteup/internal/spec"
)

type pmCommands struct {
	install spec.Command
	build   spec.Command
}

// packageManagers is the single source of install and build commands.
var packageManagers = map[spec.PackageManager]pmCommands{
	spec.NPM: {
		install: spec.NewCommand("npm", "ci"),
		build:   spec.NewCommand("npm", "run", "build"),
	},
	spec.PNPM: {
		install: spec.NewCommand("pnpm", "install", "--frozen-lockfile"),
		build:   spec.NewCommand("pnpm", "run", "build"),
	},
	spec.Yarn: {
		install: spec.NewCommand("yarn", "install", "--frozen-lockfile"),
		build:   spec.NewCommand("yarn", "run", "build"),
	},
	spec.Bun: {
		install: spec.NewCommand("bun", "install", "--frozen-lockfile"),
		build:   spec.NewCommand("bun", "run", "build"),
	},
}

var defaultPorts = map[spec.AppKind]int{
	spec.KindNode:   3000,
	spec.KindPython: 8000,
	spec.KindNext:   3000,
	spec.KindNuxt:   3000,
	spec.KindSvelte: 3000,
	spec.KindProxy:  8080,
}

// DefaultPort is the loopback port a proxied kind listens on unless the
// answers pick one.
func DefaultPort(kind spec.AppKind) int {
	return defaultPorts[kind]
}

// buildOutputs are build directories relative to the app root, per kind and mode.
var buildOutputs = map[spec.AppKind]map[spec.FrontendMode]string{
	spec.KindReact:   {spec.ModeSPA: "dist", spec.ModeStatic: "dist"},
	spec.KindVue:     {spec.ModeSPA: "dist", spec.ModeStatic: "dist"},
	spec.KindAngular: {spec.ModeSPA: "dist", spec.ModeStatic: "dist"},
	spec.KindSvelte:  {spec.ModeSPA: "build", spec.ModeStatic: "build"},
	spec.KindNext:    {spec.ModeStatic: "out"},
	spec.KindNuxt:    {spec.ModeStatic: "dist", spec.ModeSPA: ".output/public"},
}

// startCommand derives the process command for proxied kinds. ok is false
// for kinds that have no process of their own.
func startCommand(kind spec.AppKind, mode spec.FrontendMode, appRoot string, port int, entry, wsgi string) (spec.Command, bool) {
	switch kind {
	case spec.KindNode:
		return spec.NewCommand("node", entry), true
	case spec.KindPython:
		return spec.NewCommand(filepath.Join(appRoot, ".venv", "bin", "gunicorn"),
			"--workers", "2", "--bind", "127.0.0.1:"+strconv.Itoa(port), wsgi), true
	case spec.KindNext:
		if mode == spec.ModeStandalone {
			return spec.NewCommand("node", ".next/standalone/server.js"), true
		}
		return spec.NewCommand("node", "node_modules/next/dist/bin/next", "start", "-p", strconv.Itoa(port), "-H", "127.0.0.1"), true
	case spec.KindNuxt:
		return spec.NewCommand("node", ".output/server/index.mjs"), true
	case spec.KindSvelte:
		return spec.NewCommand("node", "build/index.js"), true
	}
	return spec.Command{}, false
}

func pythonInstall(appRoot string) []spec.Command {
	venv := filepath.Join(appRoot, ".venv")
	return []spec.Command{
		spec.NewCommand("python3", "-m", "venv", venv),
		spec.NewCommand(filepath.Join(venv, "bin", "pip"), "install", "-r", "requirements.txt", "gunicorn"),
	}
}

// clusterSafe lists the kinds whose node process can run as a pm2 cluster.
func clusterSafe(kind spec.AppKind, mode spec.FrontendMode) bool {
	switch kind {
	case spec.KindNode:
		return true
	case spec.KindNext, spec.KindNuxt, spec.KindSvelte:
		return mode == spec.ModeSSR
	}
	return false
}
