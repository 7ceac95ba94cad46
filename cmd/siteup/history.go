package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/reviewapps-dev/siteup/internal/app"
)

func runHistory(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history", stderr)
	var c common
	c.register(fs)
	domain := fs.String("domain", "", "show the runs of one site")
	limit := fs.Int("n", 10, "number of runs to show")
	verbose := fs.Bool("v", false, "show per-artifact states")
	if err := parse(fs, args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := app.Open(cfg.Paths.StateDB)
	if err != nil {
		return err
	}
	defer store.Close()

	p := painter{color: colorful(stdout)}
	ctx := context.Background()
	if *domain == "" {
		return printSites(ctx, stdout, store, p)
	}
	return printRuns(ctx, stdout, store, *domain, *limit, *verbose, p)
}

func printSites(ctx context.Context, w io.Writer, store *app.Store, p painter) error {
	sites, err := store.Sites(ctx)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Fprintln(w, "no sites yet, run siteup apply first")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	// Status goes last: escape codes would throw off the column widths.
	fmt.Fprintln(tw, "DOMAIN\tLAST RUN\tUPDATED\tSTATUS")
	for _, s := range sites {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Domain, short(s.LastRunID), humanize.Time(s.UpdatedAt), p.status(s.LastStatus))
	}
	return tw.Flush()
}

func printRuns(ctx context.Context, w io.Writer, store *app.Store, domain string, limit int, verbose bool, p painter) error {
	runs, err := store.ListRuns(ctx, domain, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(w, "no runs for %s\n", domain)
		return nil
	}

	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %s  took %s  spec %s\n",
			short(r.ID), humanize.Time(r.StartedAt), p.status(r.Status),
			r.FinishedAt.Sub(r.StartedAt).Round(100*time.Millisecond), r.Fingerprint)
		if r.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", r.Error)
		}
		if r.BackupDir != "" {
			fmt.Fprintf(w, "    backups: %s\n", r.BackupDir)
		}
		if !verbose {
			continue
		}
		for _, a := range r.Artifacts {
			mark := " "
			if a.Changed {
				mark = "*"
			}
			fmt.Fprintf(w, "    %s %-15s %-18s %s\n", mark, a.Kind, p.state(a.State), a.Path)
		}
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
