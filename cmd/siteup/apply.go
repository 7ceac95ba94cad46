package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/reviewapps-dev/siteup/internal/answers"
	"github.com/reviewapps-dev/siteup/internal/app"
	"github.com/reviewapps-dev/siteup/internal/deploy"
	"github.com/reviewapps-dev/siteup/internal/resolve"
)

func runApply(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("apply", stderr)
	var c common
	c.register(fs)
	answersPath := fs.String("answers", "siteup.yaml", "answers file written by siteup init")
	if err := parse(fs, args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}

	raw, err := answers.Load(*answersPath)
	if err != nil {
		return err
	}
	s, err := newResolver(cfg).Resolve(raw)
	if err != nil {
		var ve *resolve.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%s: %w (nothing was changed)", *answersPath, err)
		}
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

	rep, runErr := deploy.NewPipeline(hostDeps(cfg, logger, store)).Run(ctx, s)
	printReport(stdout, rep, painter{color: colorful(stdout)})
	if runErr != nil {
		return fmt.Errorf("apply %s finished with errors, see %s", s.Domain, logger.Path())
	}
	return nil
}

// printReport writes the run summary, one artifact per line. Terminals get
// colored states.
func printReport(w io.Writer, rep *deploy.Report, p painter) {
	if !p.color {
		fmt.Fprint(w, "\n"+rep.Summary())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n", p.paint(dimStyle, "run "+rep.RunID), rep.Domain)
	if rep.Unchanged {
		fmt.Fprintln(w, p.paint(dimStyle, "spec unchanged since the last successful run"))
	}
	if rep.Commit != "" {
		fmt.Fprintf(w, "commit %s\n", rep.Commit)
	}
	for _, a := range rep.Artifacts {
		mark := " "
		if a.Changed {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-15s %-18s %s\n", mark, a.Kind, p.state(string(a.State)), a.Path)
		if a.Err != nil {
			for _, line := range strings.Split(strings.TrimRight(a.Err.Error(), "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	if rep.Fatal != nil {
		fmt.Fprintf(w, "%s %v\n", p.paint(failStyle, "error:"), rep.Fatal)
	}
	for _, warning := range rep.Warnings {
		fmt.Fprintf(w, "%s %s\n", p.paint(warnStyle, "warning:"), warning)
	}
	if rep.BackupDir != "" {
		fmt.Fprintf(w, "backups: %s\n", rep.BackupDir)
	}
	if rep.LogPath != "" {
		fmt.Fprintf(w, "log: %s\n", rep.LogPath)
	}
	fmt.Fprintf(w, "status: %s\n", p.status(rep.Status))
}
