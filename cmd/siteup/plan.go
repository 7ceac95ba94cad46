package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reviewapps-dev/siteup/internal/answers"
	"github.com/reviewapps-dev/siteup/internal/render"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

// now is replaced in tests.
var now = time.Now

func runPlan(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("plan", stderr)
	var c common
	c.register(fs)
	answersPath := fs.String("answers", "siteup.yaml", "answers file written by siteup init")
	outDir := fs.String("out", "", "write artifacts under this directory instead of printing them")
	if err := parse(fs, args); err != nil {
		return err
	}

	cfg, err := c.read()
	if err != nil {
		return err
	}
	raw, err := answers.Load(*answersPath)
	if err != nil {
		return err
	}
	s, err := newResolver(cfg).Resolve(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", *answersPath, err)
	}

	arts, err := render.New(cfg.Layout()).RenderAll(s)
	if err != nil {
		return err
	}

	describe(stdout, s)
	if s.TLS.Mode == spec.SSLLetsEncrypt {
		if sched, err := cron.ParseStandard(cfg.ACME.RenewSchedule); err == nil {
			fmt.Fprintf(stdout, "renewal check: %q, next at %s\n", cfg.ACME.RenewSchedule, sched.Next(now()).Format(time.RFC3339))
		}
	}
	fmt.Fprintln(stdout)

	for _, a := range arts {
		if *outDir == "" {
			fmt.Fprintf(stdout, "# %s -> %s (%04o)\n%s\n", a.Kind, a.Path, a.Mode, a.Content)
			continue
		}
		dst := filepath.Join(*outDir, strings.TrimPrefix(a.Path, "/"))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, a.Content, a.Mode); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%-15s %s\n", a.Kind, dst)
	}
	return nil
}

// describe prints the resolved decisions an operator usually wants to check.
func describe(w io.Writer, s *spec.DeploymentSpec) {
	fmt.Fprintf(w, "domain:   %s\n", strings.Join(s.Hostnames(), ", "))
	fmt.Fprintf(w, "app:      %s (%s) in %s\n", s.AppKind, s.FrontendMode, s.AppRoot)
	if s.NeedsProxy {
		fmt.Fprintf(w, "serving:  proxy to 127.0.0.1:%d\n", s.Port)
	} else {
		fmt.Fprintf(w, "serving:  %s from %s\n", s.Variant, s.DocRoot)
	}
	if !s.StartCommand.IsZero() {
		fmt.Fprintf(w, "process:  %s runs %s\n", s.ProcessManager, s.StartCommand)
	}
	for _, c := range s.Install {
		fmt.Fprintf(w, "install:  %s\n", c)
	}
	if !s.BuildCommand.IsZero() {
		fmt.Fprintf(w, "build:    %s\n", s.BuildCommand)
	}
	fmt.Fprintf(w, "tls:      %s\n", s.TLS.Mode)
}
