package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
)

// Cmd is one external program invocation.
type Cmd struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

// In returns a copy of c that runs in dir.
func (c Cmd) In(dir string) Cmd {
	c.Dir = dir
	return c
}

// WithEnv returns a copy of c with extra KEY=VALUE entries appended to the
// inherited environment.
func (c Cmd) WithEnv(kv ...string) Cmd {
	c.Env = append(append([]string(nil), c.Env...), kv...)
	return c
}

func (c Cmd) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Runner executes commands and returns their combined, trimmed output. The
// output is returned on failure too so callers can surface diagnostics.
type Runner interface {
	Run(ctx context.Context, c Cmd) (string, error)
}

type RunnerFunc func(ctx context.Context, c Cmd) (string, error)

func (f RunnerFunc) Run(ctx context.Context, c Cmd) (string, error) { return f(ctx, c) }

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Cmd) (string, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, &ExitError{Cmd: c, Output: text, Err: err}
	}
	return text, nil
}

// ExitError reports a command that could not start or exited non-zero.
type ExitError struct {
	Cmd    Cmd
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Cmd.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Cmd.Name, e.Err, e.Output)
}

func (e *ExitError) Unwrap() error { return e.Err }

// DryRun records commands instead of running them. Log, when set, is called
// for each command.
type DryRun struct {
	Log func(format string, args ...any)

	mu   sync.Mutex
	cmds []Cmd
}

func (d *DryRun) Run(_ context.Context, c Cmd) (string, error) {
	d.mu.Lock()
	d.cmds = append(d.cmds, c)
	d.mu.Unlock()
	if d.Log != nil {
		if c.Dir != "" {
			d.Log("dry-run (in %s): %s", c.Dir, c)
		} else {
			d.Log("dry-run: %s", c)
		}
	}
	return "", nil
}

// Commands returns what has been recorded so far.
func (d *DryRun) Commands() []Cmd {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Cmd(nil), d.cmds...)
}

// Recorder is a scripted Runner for tests. Handler decides the result of
// each command; a nil Handler succeeds with no output.
type Recorder struct {
	Handler func(c Cmd) (string, error)

	mu   sync.Mutex
	cmds []Cmd
}

func (r *Recorder) Run(_ context.Context, c Cmd) (string, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, c)
	h := r.Handler
	r.mu.Unlock()
	if h == nil {
		return "", nil
	}
	return h(c)
}

// Lines returns each recorded command rendered as a shell line.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.cmds))
	for i, c := range r.cmds {
		out[i] = c.String()
	}
	return out
}
