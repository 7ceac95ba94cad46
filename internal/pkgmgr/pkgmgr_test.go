package pkgmgr

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/siteup/internal/shell"
)

func patchLookPath(t *testing.T, present ...string) {
	t.Helper()
	orig := lookPath
	lookPath = func(name string) (string, error) {
		for _, p := range present {
			if p == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", exec.ErrNotFound
	}
	t.Cleanup(func() { lookPath = orig })
}

func TestDetect(t *testing.T) {
	patchLookPath(t, "yum", "dnf")
	m, err := Detect(&shell.Recorder{})
	require.NoError(t, err)
	assert.Equal(t, "dnf", m.Name)

	patchLookPath(t)
	_, err = Detect(&shell.Recorder{})
	assert.Error(t, err)
}

func TestPackageName(t *testing.T) {
	patchLookPath(t, "dnf")
	m, err := Detect(&shell.Recorder{})
	require.NoError(t, err)
	assert.Equal(t, "httpd", m.PackageName("apache"))
	assert.Equal(t, "nginx", m.PackageName("nginx"))
	assert.Equal(t, "postgresql-server", m.PackageName("postgresql"))
}

func TestInstallRefreshesIndexOnce(t *testing.T) {
	patchLookPath(t, "apt-get")
	r := &shell.Recorder{Handler: func(c shell.Cmd) (string, error) {
		if c.Name == "dpkg" {
			return "package 'x' is not installed", errors.New("exit status 1")
		}
		return "", nil
	}}
	m, err := Detect(r)
	require.NoError(t, err)

	require.NoError(t, m.Install(context.Background(), "apache"))
	require.NoError(t, m.Install(context.Background(), "ufw"))

	assert.Equal(t, []string{
		"dpkg -s apache2",
		"apt-get update -qq",
		"apt-get install -y apache2",
		"dpkg -s ufw",
		"apt-get install -y ufw",
	}, r.Lines())
}

func TestInstallSkipsInstalled(t *testing.T) {
	patchLookPath(t, "pacman")
	r := &shell.Recorder{}
	m, err := Detect(r)
	require.NoError(t, err)
	require.NoError(t, m.Install(context.Background(), "nginx"))
	assert.Equal(t, []string{"pacman -Q nginx"}, r.Lines())
}

func TestInstallRejectsBadName(t *testing.T) {
	patchLookPath(t, "apt-get")
	r := &shell.Recorder{}
	m, err := Detect(r)
	require.NoError(t, err)
	assert.Error(t, m.Install(context.Background(), "nginx; rm -rf /"))
	assert.Empty(t, r.Lines())
}
