package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/reviewapps-dev/siteup/internal/acme"
	"github.com/reviewapps-dev/siteup/internal/app"
	"github.com/reviewapps-dev/siteup/internal/config"
	"github.com/reviewapps-dev/siteup/internal/database"
	"github.com/reviewapps-dev/siteup/internal/deploy"
	"github.com/reviewapps-dev/siteup/internal/logging"
	"github.com/reviewapps-dev/siteup/internal/pkgmgr"
	"github.com/reviewapps-dev/siteup/internal/resolve"
	"github.com/reviewapps-dev/siteup/internal/shell"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

// common are the flags every host-facing command takes.
type common struct {
	configPath string
	envFile    string
	dev        bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "/etc/siteup/config.toml", "path to config.toml")
	fs.StringVar(&c.envFile, "env-file", "/etc/siteup/siteup.env", "optional env file with SITEUP_* overrides")
	fs.BoolVar(&c.dev, "dev", false, "dev mode: paths under ~/.siteup, commands are logged instead of run")
}

// read loads the configuration without creating anything on disk.
func (c *common) read() (*config.Config, error) {
	return config.Load(c.configPath, c.dev, c.envFile)
}

func (c *common) load() (*config.Config, error) {
	cfg, err := c.read()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("dirs: %w", err)
	}
	return cfg, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "%s: unexpected argument %q\n", fs.Name(), fs.Arg(0))
		return errUsage
	}
	return nil
}

func newLogger(cfg *config.Config, console io.Writer) (*logging.Logger, error) {
	return logging.New(logging.Options{
		File:       cfg.Paths.LogFile,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    console,
	})
}

func newResolver(cfg *config.Config) *resolve.Resolver {
	return resolve.New(resolve.Options{CertDir: cfg.Paths.CertDir, SitesRoot: cfg.Paths.SitesRoot})
}

// hostDeps wires the real collaborators. In dev mode commands are only
// logged and nothing is installed.
func hostDeps(cfg *config.Config, logger *logging.Logger, store *app.Store) deploy.Deps {
	var runner shell.Runner = shell.ExecRunner{}
	if cfg.Dev {
		runner = &shell.DryRun{Log: logger.Log}
	}

	deps := deploy.Deps{
		Config: cfg,
		Runner: runner,
		Logger: logger,
		Store:  store,
		Databases: &database.Provisioner{
			MySQLDSN:    cfg.Database.MySQLDSN,
			PostgresDSN: cfg.Database.PostgresDSN,
		},
		LetsEncrypt: &acme.LegoCA{
			Webroot:      cfg.ACME.Webroot,
			DirectoryURL: directoryURL(cfg.ACME),
			AccountDir:   cfg.ACME.AccountDir,
		},
		Prober: deploy.HTTPProber{
			Timeout:  time.Duration(cfg.Health.TimeoutSeconds) * time.Second,
			Interval: time.Duration(cfg.Health.IntervalSeconds) * time.Second,
		},
	}

	if !cfg.Dev {
		if pm, err := pkgmgr.Detect(runner); err != nil {
			logger.Warn("%v", err)
		} else {
			deps.Packages = pm
		}
	}
	return deps
}

func directoryURL(c config.ACMEConfig) string {
	switch {
	case c.DirectoryURL != "":
		return c.DirectoryURL
	case c.Staging:
		return acme.DirectoryStaging
	}
	return acme.DirectoryProduction
}

// lastSpec returns the spec of the last successful run for domain.
func lastSpec(ctx context.Context, store *app.Store, domain string) (*spec.DeploymentSpec, error) {
	run, err := store.LastSucceeded(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", domain, err)
	}
	var s spec.DeploymentSpec
	if err := json.Unmarshal([]byte(run.SpecJSON), &s); err != nil {
		return nil, fmt.Errorf("%s: stored spec: %w", domain, err)
	}
	return &s, nil
}
