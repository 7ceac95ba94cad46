package deploy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reviewapps-dev/siteup/internal/activate"
	"github.com/reviewapps-dev/siteup/internal/render"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

// ArtifactStep renders, writes and activates one artifact. Its failures are
// recorded in the report and never stop the run; only a RenderError does.
type ArtifactStep struct {
	Kind render.Kind
	// After lists artifacts that must be live before this one is applied.
	After            []render.Kind
	NeedsCertificate bool
	// NeedsDocRoot holds back a vhost that serves files until the document
	// root exists.
	NeedsDocRoot bool
}

func (s *ArtifactStep) Name() string { return string(s.Kind) }

func (s *ArtifactStep) Run(ctx *StepContext) error {
	path, err := ctx.Renderer.Path(ctx.Spec, s.Kind)
	if err != nil {
		return err
	}

	for _, dep := range s.After {
		if !ctx.Report.reloaded(dep) {
			ctx.Logger.Warn("skipping %s: %s is not live", path, dep)
			ctx.Report.add(ArtifactResult{Kind: s.Kind, Path: path, State: Skipped})
			return nil
		}
	}
	if s.NeedsCertificate && !ctx.CertificateReady {
		ctx.Logger.Warn("skipping %s: no certificate", path)
		ctx.Report.add(ArtifactResult{Kind: s.Kind, Path: path, State: Skipped})
		return nil
	}

	if s.NeedsDocRoot && ctx.Spec.Variant != spec.VariantProxy {
		if err := checkDocRoot(ctx.Spec.DocRoot); err != nil {
			if !ctx.Config.Dev {
				ctx.Logger.Error("skipping %s: %v", path, err)
				ctx.Report.add(ArtifactResult{Kind: s.Kind, Path: path, State: Skipped, Err: err})
				return nil
			}
			ctx.Warn("%v", err)
		}
	}

	a, err := ctx.Renderer.Render(ctx.Spec, s.Kind)
	if err != nil {
		return err
	}
	if s.Kind == render.KindHTTPVhost && ctx.Spec.TLS.Enabled() {
		redirect, live, err := liveRedirect(ctx)
		if err != nil {
			return err
		}
		if live {
			ctx.Logger.Log("%s already redirects to the live SSL vhost, keeping it", path)
			a.Content = redirect.Content
		}
	}

	out, err := ctx.Writer.Write(a)
	if err != nil {
		ctx.Logger.Error("%v", err)
		ctx.Report.add(ArtifactResult{Kind: s.Kind, Path: path, State: WriteFailed, Err: err})
		return nil
	}
	switch {
	case out.BackupPath != "":
		ctx.Logger.Log("wrote %s (previous version in %s)", path, out.BackupPath)
	case out.Created:
		ctx.Logger.Log("created %s", path)
	case !out.Changed:
		ctx.Logger.Log("%s unchanged", path)
	}

	state, err := ctx.Activate.Activate(ctx.Ctx, a, out)
	ctx.Report.add(ArtifactResult{
		Kind:       s.Kind,
		Path:       path,
		State:      state,
		Changed:    out.Changed,
		BackupPath: out.BackupPath,
		Err:        err,
	})
	if err != nil {
		ctx.Logger.Error("%v", err)
		return nil
	}
	ctx.Logger.Log("%s %s", path, state)

	if s.Kind == render.KindSupervisor && state == activate.Reloaded {
		return s.persist(ctx)
	}
	return nil
}

func checkDocRoot(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err != nil:
		return fmt.Errorf("document root %s is missing: build the app or set build_output", dir)
	case !info.IsDir():
		return fmt.Errorf("document root %s is not a directory", dir)
	}
	return nil
}

// liveRedirect reports whether a previous run left this spec's redirect in
// the HTTP vhost path and its SSL vhost in place. Rewriting the plain HTTP
// body there would only be undone by the redirect step later in the run.
func liveRedirect(ctx *StepContext) (render.Artifact, bool, error) {
	redirect, err := ctx.Renderer.Render(ctx.Spec, render.KindRedirectVhost)
	if err != nil {
		return render.Artifact{}, false, err
	}
	ssl, err := ctx.Renderer.Render(ctx.Spec, render.KindSSLVhost)
	if err != nil {
		return render.Artifact{}, false, err
	}
	for _, want := range []render.Artifact{redirect, ssl} {
		current, err := os.ReadFile(want.Path)
		if err != nil || !bytes.Equal(current, want.Content) {
			return redirect, false, nil
		}
	}
	return redirect, true, nil
}

// persist makes pm2 resurrect its processes at boot. It runs once per host.
func (s *ArtifactStep) persist(ctx *StepContext) error {
	if ctx.Spec.ProcessManager != spec.ProcPM2 || ctx.Supervisor == nil {
		return nil
	}
	unit := filepath.Join(ctx.Config.Systemd.UnitDir, "pm2-root.service")
	if _, err := os.Stat(unit); err == nil {
		return nil
	}
	ctx.Logger.Log("configuring pm2 startup at boot")
	if err := ctx.Supervisor.ConfigurePersistence(ctx.Ctx, "root"); err != nil {
		return &CollaboratorError{Collaborator: "supervisor", Op: "pm2 startup", Optional: true, Err: err}
	}
	return nil
}
