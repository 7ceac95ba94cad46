package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/reviewapps-dev/siteup/internal/answers"
	"github.com/reviewapps-dev/siteup/internal/app"
	"github.com/reviewapps-dev/siteup/internal/config"
	"github.com/reviewapps-dev/siteup/internal/port"
	"github.com/reviewapps-dev/siteup/internal/spec"
	"github.com/reviewapps-dev/siteup/internal/wizard"
)

// runWizard is replaced in tests.
var runWizard = wizard.Run

func runInit(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("init", stderr)
	var c common
	c.register(fs)
	out := fs.String("out", "siteup.yaml", "where to write the answers")
	force := fs.Bool("force", false, "overwrite an existing answers file")
	accessible := fs.Bool("accessible", false, "plain prompts for screen readers")
	if err := parse(fs, args); err != nil {
		return err
	}

	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *out)
	}

	cfg, err := c.read()
	if err != nil {
		return err
	}

	raw, err := runWizard(wizard.Options{
		Ports:      knownPorts(cfg),
		SitesRoot:  cfg.Paths.SitesRoot,
		Accessible: *accessible,
	})
	if err != nil {
		if errors.Is(err, wizard.ErrNotTerminal) {
			return fmt.Errorf("%w; write %s by hand instead", err, *out)
		}
		return err
	}

	if _, err := newResolver(cfg).Resolve(raw); err != nil {
		return fmt.Errorf("answers rejected: %w", err)
	}
	if err := answers.Save(*out, raw); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\nreview it with: siteup plan -answers %s\napply it with:  siteup apply -answers %s\n", *out, *out, *out)
	return nil
}

// knownPorts reserves the ports of sites already applied on this host so the
// wizard does not suggest them again.
func knownPorts(cfg *config.Config) *port.Allocator {
	ports := port.NewAllocator()
	if _, err := os.Stat(cfg.Paths.StateDB); err != nil {
		return ports
	}
	store, err := app.Open(cfg.Paths.StateDB)
	if err != nil {
		return ports
	}
	defer store.Close()

	ctx := context.Background()
	sites, err := store.Sites(ctx)
	if err != nil {
		return ports
	}
	for _, site := range sites {
		s, err := lastSpec(ctx, store, site.Domain)
		if err != nil || s.Port == 0 {
			continue
		}
		ports.Reserve(spec.ServiceID(s.Domain), s.Port)
	}
	return ports
}
