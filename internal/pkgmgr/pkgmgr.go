package pkgmgr

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/reviewapps-dev/siteup/internal/shell"
)

var lookPath = exec.LookPath

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9.+\-:]+$`)

// Manager installs system packages with the host's package manager.
type Manager struct {
	Name    string
	install []string
	query   []string
	update  []string

	runner       shell.Runner
	indexUpdated bool
}

var candidates = []Manager{
	{Name: "apt-get", install: []string{"apt-get", "install", "-y"}, query: []string{"dpkg", "-s"}, update: []string{"apt-get", "update", "-qq"}},
	{Name: "dnf", install: []string{"dnf", "install", "-y"}, query: []string{"rpm", "-q"}, update: []string{"dnf", "makecache", "-q"}},
	{Name: "yum", install: []string{"yum", "install", "-y"}, query: []string{"rpm", "-q"}, update: []string{"yum", "makecache", "-q"}},
	{Name: "pacman", install: []string{"pacman", "-S", "--noconfirm", "--needed"}, query: []string{"pacman", "-Q"}},
}

// Detect picks the first supported package manager found on PATH.
func Detect(runner shell.Runner) (*Manager, error) {
	for _, c := range candidates {
		if _, err := lookPath(c.Name); err == nil {
			m := c
			m.runner = runner
			return &m, nil
		}
	}
	return nil, fmt.Errorf("no supported package manager found (tried apt-get, dnf, yum, pacman)")
}

// names maps generic package names to distribution names. Names missing
// from a distribution's column are used unchanged.
var names = map[string]map[string]string{
	"apache":       {"apt-get": "apache2", "dnf": "httpd", "yum": "httpd", "pacman": "apache"},
	"python3-venv": {"dnf": "python3", "yum": "python3", "pacman": "python"},
	"mysql":        {"apt-get": "mysql-server", "dnf": "mariadb-server", "yum": "mariadb-server", "pacman": "mariadb"},
	"postgresql":   {"dnf": "postgresql-server", "yum": "postgresql-server"},
	"cron":         {"dnf": "cronie", "yum": "cronie", "pacman": "cronie"},
}

func (m *Manager) PackageName(generic string) string {
	if n, ok := names[generic][m.Name]; ok {
		return n
	}
	return generic
}

func (m *Manager) Installed(ctx context.Context, name string) bool {
	args := append(append([]string(nil), m.query[1:]...), m.PackageName(name))
	_, err := m.runner.Run(ctx, shell.Command(m.query[0], args...))
	return err == nil
}

// Install installs name unless it is already present. The package index is
// refreshed once per Manager before the first install.
func (m *Manager) Install(ctx context.Context, name string) error {
	pkg := m.PackageName(name)
	if !validName.MatchString(pkg) {
		return fmt.Errorf("invalid package name %q", pkg)
	}
	if m.Installed(ctx, name) {
		return nil
	}

	if !m.indexUpdated && len(m.update) > 0 {
		if _, err := m.runner.Run(ctx, m.cmd(m.update)); err != nil {
			return fmt.Errorf("%s: refresh package index: %w", m.Name, err)
		}
		m.indexUpdated = true
	}

	if _, err := m.runner.Run(ctx, m.cmd(append(append([]string(nil), m.install...), pkg))); err != nil {
		return fmt.Errorf("%s: install %s: %w", m.Name, pkg, err)
	}
	return nil
}

func (m *Manager) cmd(argv []string) shell.Cmd {
	return shell.Command(argv[0], argv[1:]...).WithEnv("DEBIAN_FRONTEND=noninteractive")
}
