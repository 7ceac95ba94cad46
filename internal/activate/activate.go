package activate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/reviewapps-dev/siteup/internal/render"
	"github.com/reviewapps-dev/siteup/internal/shell"
	"github.com/reviewapps-dev/siteup/internal/spec"
	"github.com/reviewapps-dev/siteup/internal/supervisor"
	"github.com/reviewapps-dev/siteup/internal/writer"
)

type State string

const (
	Written          State = "written"
	Enabled          State = "enabled"
	Validated        State = "validated"
	Reloaded         State = "reloaded"
	ValidationFailed State = "validation-failed"
)

// ActivationError is fatal for one artifact. The previous configuration
// stays live; Diagnostic is the validator's output, unmodified.
type ActivationError struct {
	Kind       render.Kind
	Path       string
	State      State
	Diagnostic string
	Err        error
}

func (e *ActivationError) Error() string {
	msg := fmt.Sprintf("activate %s %s (state %s): %v", e.Kind, e.Path, e.State, e.Err)
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *ActivationError) Unwrap() error { return e.Err }

// Web describes the web server whose configuration the vhosts join.
type Web struct {
	Server      spec.WebServer
	TestCommand spec.Command
	Service     string
	// SitesEnabled is the directory of enable links. Empty means the server
	// loads SitesDir directly and enabling is a no-op.
	SitesEnabled string
	// Modules are Apache modules enabled once per run before the first vhost.
	Modules []string
}

// Controller moves written artifacts through
// Written → Enabled → Validated → Reloaded, or stops at ValidationFailed
// after putting the previous file back.
type Controller struct {
	runner  shell.Runner
	web     Web
	sup     supervisor.Supervisor
	restore func(writer.Outcome) error

	modulesEnabled bool
}

// New builds a controller. sup may be nil when the spec has no supervised
// process; restore may be nil when nothing should be put back.
func New(runner shell.Runner, web Web, sup supervisor.Supervisor, restore func(writer.Outcome) error) *Controller {
	return &Controller{runner: runner, web: web, sup: sup, restore: restore}
}

func (c *Controller) Activate(ctx context.Context, a render.Artifact, o writer.Outcome) (State, error) {
	switch {
	case a.Kind.IsVhost():
		return c.vhost(ctx, a, o)
	case a.Kind == render.KindSupervisor:
		return c.supervised(ctx, a, o)
	case a.Kind == render.KindFirewall:
		return c.script(ctx, a, o, true)
	case a.Kind.IsScript():
		return c.script(ctx, a, o, false)
	case a.Kind == render.KindRenewCron:
		return c.cronEntry(a, o)
	}
	return Written, &ActivationError{Kind: a.Kind, Path: a.Path, State: Written, Err: errors.New("unknown artifact kind")}
}

func (c *Controller) vhost(ctx context.Context, a render.Artifact, o writer.Outcome) (State, error) {
	fail := func(state State, diag string, err error) (State, error) {
		return state, &ActivationError{Kind: a.Kind, Path: a.Path, State: state, Diagnostic: diag, Err: err}
	}

	if err := c.enableModules(ctx); err != nil {
		return fail(Written, "", err)
	}
	link, created, err := c.enableSite(a.Path)
	if err != nil {
		return fail(Written, "", fmt.Errorf("enable: %w", err))
	}

	if out, err := c.runner.Run(ctx, shell.Command(c.web.TestCommand.Tool, c.web.TestCommand.Args...)); err != nil {
		var undo []error
		if created {
			if rmErr := os.Remove(link); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				undo = append(undo, rmErr)
			}
		}
		undo = append(undo, c.undo(o))
		return fail(ValidationFailed, out, errors.Join(append([]error{fmt.Errorf("%s failed", c.web.TestCommand)}, undo...)...))
	}

	if _, err := c.runner.Run(ctx, shell.Command("systemctl", "reload", c.web.Service)); err != nil {
		return fail(Validated, "", fmt.Errorf("reload %s: %w", c.web.Service, err))
	}
	return Reloaded, nil
}

// enableSite links path into SitesEnabled. created reports whether the link
// is new in this call.
func (c *Controller) enableSite(path string) (string, bool, error) {
	if c.web.SitesEnabled == "" {
		return "", false, nil
	}
	link := filepath.Join(c.web.SitesEnabled, filepath.Base(path))
	if target, err := os.Readlink(link); err == nil && target == path {
		return link, false, nil
	}
	if err := os.MkdirAll(c.web.SitesEnabled, 0755); err != nil {
		return link, false, err
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return link, false, err
	}
	if err := os.Symlink(path, link); err != nil {
		return link, false, err
	}
	return link, true, nil
}

func (c *Controller) enableModules(ctx context.Context) error {
	if c.modulesEnabled || c.web.Server != spec.Apache || len(c.web.Modules) == 0 {
		return nil
	}
	if out, err := c.runner.Run(ctx, shell.Command("a2enmod", c.web.Modules...)); err != nil {
		return fmt.Errorf("a2enmod: %w: %s", err, out)
	}
	c.modulesEnabled = true
	return nil
}

func (c *Controller) supervised(ctx context.Context, a render.Artifact, o writer.Outcome) (State, error) {
	fail := func(state State, diag string, err error) (State, error) {
		return state, &ActivationError{Kind: a.Kind, Path: a.Path, State: state, Diagnostic: diag, Err: err}
	}
	if c.sup == nil {
		return fail(Written, "", errors.New("no supervisor configured"))
	}

	if out, err := c.sup.Verify(ctx, a.Path); err != nil {
		return fail(ValidationFailed, out, errors.Join(fmt.Errorf("verify: %w", err), c.undo(o)))
	}
	if err := c.sup.Enable(ctx, a.Name, a.Path); err != nil {
		return fail(Validated, "", fmt.Errorf("enable: %w", err))
	}
	if err := c.sup.Restart(ctx, a.Name); err != nil {
		return fail(Validated, "", fmt.Errorf("restart: %w", err))
	}
	if err := c.sup.Save(ctx); err != nil {
		return fail(Validated, "", fmt.Errorf("save: %w", err))
	}
	return Reloaded, nil
}

// script checks shell syntax; apply also runs the script (the firewall).
func (c *Controller) script(ctx context.Context, a render.Artifact, o writer.Outcome, apply bool) (State, error) {
	if out, err := c.runner.Run(ctx, shell.Command("sh", "-n", a.Path)); err != nil {
		return ValidationFailed, &ActivationError{
			Kind: a.Kind, Path: a.Path, State: ValidationFailed, Diagnostic: out,
			Err: errors.Join(fmt.Errorf("sh -n: %w", err), c.undo(o)),
		}
	}
	if apply {
		if out, err := c.runner.Run(ctx, shell.Command("sh", a.Path)); err != nil {
			return Validated, &ActivationError{Kind: a.Kind, Path: a.Path, State: Validated, Diagnostic: out, Err: err}
		}
	}
	return Reloaded, nil
}

func (c *Controller) cronEntry(a render.Artifact, o writer.Outcome) (State, error) {
	if err := CheckCronFile(string(a.Content)); err != nil {
		return ValidationFailed, &ActivationError{
			Kind: a.Kind, Path: a.Path, State: ValidationFailed, Diagnostic: err.Error(),
			Err: errors.Join(errors.New("invalid cron entry"), c.undo(o)),
		}
	}
	// cron picks up /etc/cron.d changes on its own.
	return Reloaded, nil
}

// CheckCronFile validates every entry line of a cron.d file: five schedule
// fields, a user, then a command.
func CheckCronFile(content string) error {
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if strings.Contains(fields[0], "=") {
			continue
		}
		if strings.HasPrefix(fields[0], "@") {
			if len(fields) < 3 {
				return fmt.Errorf("line %d: want descriptor, user and command", i+1)
			}
			if _, err := cron.ParseStandard(fields[0]); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			continue
		}
		if len(fields) < 7 {
			return fmt.Errorf("line %d: want schedule, user and command", i+1)
		}
		if _, err := cron.ParseStandard(strings.Join(fields[:5], " ")); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

func (c *Controller) undo(o writer.Outcome) error {
	if c.restore == nil {
		return nil
	}
	if err := c.restore(o); err != nil {
		return fmt.Errorf("restore previous file: %w", err)
	}
	return nil
}

// ReloadWebServer validates the whole web server configuration and reloads
// it gracefully.
func (c *Controller) ReloadWebServer(ctx context.Context) error {
	if out, err := c.runner.Run(ctx, shell.Command(c.web.TestCommand.Tool, c.web.TestCommand.Args...)); err != nil {
		return fmt.Errorf("%s: %w\n%s", c.web.TestCommand, err, out)
	}
	if _, err := c.runner.Run(ctx, shell.Command("systemctl", "reload", c.web.Service)); err != nil {
		return fmt.Errorf("reload %s: %w", c.web.Service, err)
	}
	return nil
}
