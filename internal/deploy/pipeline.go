package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/reviewapps-dev/siteup/internal/acme"
	"github.com/reviewapps-dev/siteup/internal/activate"
	"github.com/reviewapps-dev/siteup/internal/app"
	"github.com/reviewapps-dev/siteup/internal/config"
	"github.com/reviewapps-dev/siteup/internal/git"
	"github.com/reviewapps-dev/siteup/internal/logging"
	"github.com/reviewapps-dev/siteup/internal/render"
	"github.com/reviewapps-dev/siteup/internal/shell"
	"github.com/reviewapps-dev/siteup/internal/spec"
	"github.com/reviewapps-dev/siteup/internal/supervisor"
	"github.com/reviewapps-dev/siteup/internal/writer"
)

// Deps are the collaborators a run uses. Nil optional collaborators turn
// their steps into warnings.
type Deps struct {
	Config *config.Config
	Runner shell.Runner
	Logger *logging.Logger
	// Store keeps run history. Nil disables history.
	Store *app.Store

	Packages    Packages
	Databases   Databases
	LetsEncrypt acme.CA
	SelfSigned  acme.CA
	Prober      Prober

	Now func() time.Time
}

type Pipeline struct {
	steps []Step
	deps  Deps
}

func NewPipeline(deps Deps) *Pipeline {
	if deps.Runner == nil {
		deps.Runner = shell.ExecRunner{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.SelfSigned == nil {
		deps.SelfSigned = acme.SelfSignedCA{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps}
}

// AddStep replaces the standard step list with explicitly added steps.
func (p *Pipeline) AddStep(s Step) {
	p.steps = append(p.steps, s)
}

// Steps returns the standard steps for s in execution order: preparation,
// then one step per artifact with its dependencies, then the health probe.
func Steps(s *spec.DeploymentSpec, r *render.Renderer) []Step {
	steps := []Step{
		&CreateDirStep{},
		&SystemPackagesStep{},
		&GitSourceStep{},
		&DatabaseStep{},
		&InstallDepsStep{},
		&BuildStep{},
	}

	kinds := map[render.Kind]bool{}
	for _, k := range r.Kinds(s) {
		kinds[k] = true
	}

	if kinds[render.KindSupervisor] {
		steps = append(steps, &ArtifactStep{Kind: render.KindSupervisor})
	}
	steps = append(steps, &ArtifactStep{Kind: render.KindHTTPVhost, NeedsDocRoot: true})
	if s.TLS.Enabled() {
		steps = append(steps,
			&CertificateStep{},
			&ArtifactStep{Kind: render.KindSSLVhost, After: []render.Kind{render.KindHTTPVhost}, NeedsCertificate: true},
			&ArtifactStep{Kind: render.KindRedirectVhost, After: []render.Kind{render.KindSSLVhost}},
		)
	}
	if kinds[render.KindFirewall] {
		steps = append(steps, &ArtifactStep{Kind: render.KindFirewall})
	}
	for _, k := range []render.Kind{render.KindUpdateScript, render.KindRestartScript, render.KindLogsScript, render.KindStatusScript} {
		steps = append(steps, &ArtifactStep{Kind: k})
	}
	if kinds[render.KindRenewCron] {
		steps = append(steps, &ArtifactStep{Kind: render.KindRenewCron, NeedsCertificate: true})
	}
	return append(steps, &HealthStep{})
}

// Run applies s to the host. Preparation failures stop the run; artifact
// failures are recorded and the remaining artifacts still run. The run is
// saved to history whatever the outcome. The returned error is Report.Err().
func (p *Pipeline) Run(ctx context.Context, s *spec.DeploymentSpec) (*Report, error) {
	cfg := p.deps.Config
	logger := p.deps.Logger
	now := p.deps.Now()

	rep := &Report{
		RunID:     uuid.NewString(),
		Domain:    s.Domain,
		StartedAt: now,
		LogPath:   logger.Path(),
	}
	logger = logger.With("run", rep.RunID[:8])

	fp, err := s.Fingerprint()
	if err != nil {
		return p.abort(ctx, rep, s, err)
	}
	rep.Fingerprint = fp
	if p.deps.Store != nil {
		last, err := p.deps.Store.LastSucceeded(ctx, s.Domain)
		switch {
		case err == nil:
			rep.Unchanged = last.Fingerprint == fp
		case !errors.Is(err, app.ErrNotFound):
			logger.Warn("history: %v", err)
		}
	}

	renderer := render.New(cfg.Layout())
	w := writer.New(cfg.Paths.BackupDir, now.UTC().Format("20060102T150405Z")+"-"+rep.RunID[:8], cfg.Service.User, cfg.Service.Group)

	var sup supervisor.Supervisor
	if s.ProcessManager == spec.ProcPM2 || s.ProcessManager == spec.ProcSystemd {
		if sup, err = supervisor.New(s.ProcessManager, p.deps.Runner, cfg.PM2.ConfigDir); err != nil {
			return p.abort(ctx, rep, s, err)
		}
	}

	sctx := &StepContext{
		Ctx:         ctx,
		Spec:        s,
		Config:      cfg,
		Logger:      logger,
		Runner:      p.deps.Runner,
		Renderer:    renderer,
		Writer:      w,
		Activate:    activate.New(p.deps.Runner, webFor(cfg, s), sup, w.Restore),
		Packages:    p.deps.Packages,
		Git:         &git.Client{Runner: p.deps.Runner},
		Databases:   p.deps.Databases,
		LetsEncrypt: p.deps.LetsEncrypt,
		SelfSigned:  p.deps.SelfSigned,
		Prober:      p.deps.Prober,
		Supervisor:  sup,
		Report:      rep,
	}

	if rep.Unchanged {
		logger.Log("starting run for %s (spec unchanged since last success)", s.Domain)
	} else {
		logger.Log("starting run for %s", s.Domain)
	}

	steps := p.steps
	if len(steps) == 0 {
		steps = Steps(s, renderer)
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			rep.Fatal = fmt.Errorf("run cancelled: %w", ctx.Err())
		default:
		}
		if rep.Fatal != nil {
			break
		}

		logger.Log("step: %s", step.Name())
		sctx.Logger = logger.With("step", step.Name())
		if err := step.Run(sctx); err != nil {
			var ce *CollaboratorError
			if errors.As(err, &ce) && ce.Optional {
				sctx.Warn("%s: %v", step.Name(), err)
				continue
			}
			logger.Error("step %s failed: %v", step.Name(), err)
			rep.Fatal = fmt.Errorf("step %s: %w", step.Name(), err)
		}
	}

	if _, err := os.Stat(w.BackupSet()); err == nil {
		rep.BackupDir = w.BackupSet()
	}
	return p.finish(ctx, rep, s, logger)
}

func (p *Pipeline) abort(ctx context.Context, rep *Report, s *spec.DeploymentSpec, err error) (*Report, error) {
	rep.Fatal = err
	return p.finish(ctx, rep, s, p.deps.Logger)
}

func (p *Pipeline) finish(ctx context.Context, rep *Report, s *spec.DeploymentSpec, logger *logging.Logger) (*Report, error) {
	rep.finish(p.deps.Now())
	logger.Log("run %s finished: %s", rep.RunID, rep.Status)

	if p.deps.Store != nil {
		data, err := json.Marshal(s)
		if err != nil {
			logger.Warn("history: encode spec: %v", err)
		}
		// A cancelled run is still recorded.
		if err := p.deps.Store.SaveRun(context.WithoutCancel(ctx), rep.Record(string(data))); err != nil {
			logger.Warn("history: %v", err)
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("history not saved: %v", err))
		}
	}
	return rep, rep.Err()
}

func webFor(cfg *config.Config, s *spec.DeploymentSpec) activate.Web {
	wc := cfg.Web(s.WebServer)
	test, _ := spec.ParseCommand(wc.TestCommand)
	web := activate.Web{
		Server:       s.WebServer,
		TestCommand:  test,
		Service:      wc.Service,
		SitesEnabled: wc.SitesEnabled,
	}
	if s.WebServer == spec.Apache {
		web.Modules = wc.Modules
	}
	return web
}
