package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/reviewapps-dev/siteup/internal/app"
	"github.com/reviewapps-dev/siteup/internal/deploy"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

func runRenew(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("renew", stderr)
	var c common
	c.register(fs)
	domain := fs.String("domain", "", "renew one site (default: every Let's Encrypt site)")
	if err := parse(fs, args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := app.Open(cfg.Paths.StateDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	domains := []string{*domain}
	if *domain == "" {
		sites, err := store.Sites(ctx)
		if err != nil {
			return err
		}
		domains = domains[:0]
		for _, site := range sites {
			domains = append(domains, site.Domain)
		}
	}

	p := deploy.NewPipeline(hostDeps(cfg, logger, store))
	var errs []error
	for _, d := range domains {
		s, err := lastSpec(ctx, store, d)
		if err != nil {
			if *domain == "" && errors.Is(err, app.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if s.TLS.Mode != spec.SSLLetsEncrypt {
			if *domain != "" {
				errs = append(errs, fmt.Errorf("%s does not use Let's Encrypt", d))
			}
			continue
		}

		renewed, err := p.Renew(ctx, s)
		switch {
		case err != nil:
			logger.Error("%s: %v", d, err)
			errs = append(errs, err)
		case renewed:
			fmt.Fprintf(stdout, "%s: renewed\n", d)
		default:
			fmt.Fprintf(stdout, "%s: still valid\n", d)
		}
	}
	return errors.Join(errs...)
}
