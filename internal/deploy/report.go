package deploy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reviewapps-dev/siteup/internal/activate"
	"github.com/reviewapps-dev/siteup/internal/app"
	"github.com/reviewapps-dev/siteup/internal/render"
)

// Artifact states the orchestrator adds to the activation states.
const (
	Skipped     activate.State = "skipped"
	WriteFailed activate.State = "write-failed"
)

type ArtifactResult struct {
	Kind       render.Kind
	Path       string
	State      activate.State
	Changed    bool
	BackupPath string
	Err        error
}

// Report is the outcome of one run, built up as steps execute.
type Report struct {
	RunID       string
	Domain      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Fingerprint string
	// Unchanged is true when the last successful run applied the same spec.
	Unchanged bool
	Commit    string
	BackupDir string
	LogPath   string
	Status    app.Status

	Artifacts []ArtifactResult
	Warnings  []string
	// Fatal is the error that stopped the run, if any.
	Fatal error
}

func (r *Report) add(res ArtifactResult) {
	r.Artifacts = append(r.Artifacts, res)
}

// Result returns the latest result recorded for kind.
func (r *Report) Result(kind render.Kind) (ArtifactResult, bool) {
	for i := len(r.Artifacts) - 1; i >= 0; i-- {
		if r.Artifacts[i].Kind == kind {
			return r.Artifacts[i], true
		}
	}
	return ArtifactResult{}, false
}

func (r *Report) reloaded(kind render.Kind) bool {
	res, ok := r.Result(kind)
	return ok && res.State == activate.Reloaded
}

// ActivationErrors lists every artifact that failed validation or activation.
func (r *Report) ActivationErrors() []*activate.ActivationError {
	var out []*activate.ActivationError
	for _, a := range r.Artifacts {
		var ae *activate.ActivationError
		if errors.As(a.Err, &ae) {
			out = append(out, ae)
		}
	}
	return out
}

func (r *Report) finish(now time.Time) {
	r.FinishedAt = now
	switch {
	case r.Fatal != nil:
		r.Status = app.StatusFailed
	case r.complete():
		r.Status = app.StatusSucceeded
	default:
		r.Status = app.StatusPartial
	}
}

func (r *Report) complete() bool {
	for _, a := range r.Artifacts {
		if a.State != activate.Reloaded {
			return false
		}
	}
	return true
}

// Err joins the fatal error with every per-artifact error.
func (r *Report) Err() error {
	var errs []error
	if r.Fatal != nil {
		errs = append(errs, r.Fatal)
	}
	for _, a := range r.Artifacts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errors.Join(errs...)
}

// Summary renders the report as plain text, one artifact per line. Failed
// artifacts carry their path and the validator's output.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s for %s: %s\n", r.RunID, r.Domain, r.Status)
	if r.Unchanged {
		b.WriteString("spec unchanged since the last successful run\n")
	}
	if r.Commit != "" {
		fmt.Fprintf(&b, "commit %s\n", r.Commit)
	}
	for _, a := range r.Artifacts {
		mark := " "
		if a.Changed {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %-15s %-18s %s\n", mark, a.Kind, a.State, a.Path)
		if a.Err != nil {
			for _, line := range strings.Split(strings.TrimRight(a.Err.Error(), "\n"), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	if r.Fatal != nil {
		fmt.Fprintf(&b, "error: %v\n", r.Fatal)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	if r.BackupDir != "" {
		fmt.Fprintf(&b, "backups: %s\n", r.BackupDir)
	}
	if r.LogPath != "" {
		fmt.Fprintf(&b, "log: %s\n", r.LogPath)
	}
	return b.String()
}

// Record converts the report into a history entry.
func (r *Report) Record(specJSON string) *app.Run {
	run := &app.Run{
		ID:          r.RunID,
		Domain:      r.Domain,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Status:      r.Status,
		Fingerprint: r.Fingerprint,
		SpecJSON:    specJSON,
		BackupDir:   r.BackupDir,
		LogPath:     r.LogPath,
	}
	if r.Fatal != nil {
		run.Error = r.Fatal.Error()
	}
	for _, a := range r.Artifacts {
		rec := app.ArtifactRecord{
			Kind:    string(a.Kind),
			Path:    a.Path,
			State:   string(a.State),
			Changed: a.Changed,
		}
		if a.Err != nil {
			rec.Error = a.Err.Error()
		}
		run.Artifacts = append(run.Artifacts, rec)
	}
	return run
}
