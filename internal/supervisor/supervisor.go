package supervisor

import (
	"context"
	"fmt"
	"os/user"
	"path/filepath"

	"github.com/reviewapps-dev/siteup/internal/shell"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

// Supervisor keeps an application process running. Names are service ids
// (spec.DeploymentSpec.ServiceID).
type Supervisor interface {
	// Enable registers a freshly written config with the supervisor.
	Enable(ctx context.Context, name, path string) error
	// Verify checks a config without applying it and returns the tool's
	// diagnostic output.
	Verify(ctx context.Context, path string) (string, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	// Save persists the process list across reboots.
	Save(ctx context.Context) error
	ConfigurePersistence(ctx context.Context, user string) error
}

var lookupUser = user.Lookup

func New(pm spec.ProcessManager, runner shell.Runner, pm2ConfigDir string) (Supervisor, error) {
	switch pm {
	case spec.ProcPM2:
		return &PM2{Runner: runner, ConfigDir: pm2ConfigDir}, nil
	case spec.ProcSystemd:
		return &Systemd{Runner: runner}, nil
	}
	return nil, fmt.Errorf("no supervisor for process manager %q", pm)
}

func run(ctx context.Context, r shell.Runner, name string, args ...string) error {
	if _, err := r.Run(ctx, shell.Command(name, args...)); err != nil {
		return err
	}
	return nil
}

// PM2 drives pm2 through ecosystem files named <name>.config.js.
type PM2 struct {
	Runner    shell.Runner
	ConfigDir string
}

func (p *PM2) config(name string) string {
	return filepath.Join(p.ConfigDir, name+".config.js")
}

// Enable is a no-op: pm2 reads the ecosystem file on startOrReload.
func (p *PM2) Enable(context.Context, string, string) error { return nil }

func (p *PM2) Verify(ctx context.Context, path string) (string, error) {
	return p.Runner.Run(ctx, shell.Command("node", "--check", path))
}

func (p *PM2) Start(ctx context.Context, name string) error {
	return run(ctx, p.Runner, "pm2", "start", p.config(name))
}

func (p *PM2) Stop(ctx context.Context, name string) error {
	return run(ctx, p.Runner, "pm2", "stop", name)
}

// Restart reloads cluster processes without downtime and starts the app if
// pm2 does not know it yet.
func (p *PM2) Restart(ctx context.Context, name string) error {
	return run(ctx, p.Runner, "pm2", "startOrReload", p.config(name), "--update-env")
}

func (p *PM2) Save(ctx context.Context) error {
	return run(ctx, p.Runner, "pm2", "save")
}

func (p *PM2) ConfigurePersistence(ctx context.Context, username string) error {
	args := []string{"startup", "systemd", "-u", username}
	if u, err := lookupUser(username); err == nil && u.HomeDir != "" {
		args = append(args, "--hp", u.HomeDir)
	}
	return run(ctx, p.Runner, "pm2", args...)
}

// Systemd manages <name>.service units.
type Systemd struct {
	Runner shell.Runner
}

func unit(name string) string { return name + ".service" }

func (s *Systemd) Enable(ctx context.Context, name, _ string) error {
	if err := run(ctx, s.Runner, "systemctl", "daemon-reload"); err != nil {
		return err
	}
	return run(ctx, s.Runner, "systemctl", "enable", unit(name))
}

func (s *Systemd) Verify(ctx context.Context, path string) (string, error) {
	return s.Runner.Run(ctx, shell.Command("systemd-analyze", "verify", path))
}

func (s *Systemd) Start(ctx context.Context, name string) error {
	return run(ctx, s.Runner, "systemctl", "start", unit(name))
}

func (s *Systemd) Stop(ctx context.Context, name string) error {
	return run(ctx, s.Runner, "systemctl", "stop", unit(name))
}

func (s *Systemd) Restart(ctx context.Context, name string) error {
	return run(ctx, s.Runner, "systemctl", "restart", unit(name))
}

// Save is a no-op: enabled units already start at boot.
func (s *Systemd) Save(context.Context) error { return nil }

func (s *Systemd) ConfigurePersistence(context.Context, string) error { return nil }
