package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/siteup/internal/shell"
)

func TestCloneIntoMissingDir(t *testing.T) {
	r := &shell.Recorder{}
	dir := filepath.Join(t.TempDir(), "app.example.com")
	c := &Client{Runner: r}

	require.NoError(t, c.CloneOrUpdate(context.Background(), "https://github.com/example/app.git", "main", dir))
	assert.Equal(t, []string{
		"git clone --depth 1 --branch main https://github.com/example/app.git " + dir,
	}, r.Lines())
}

func TestCloneIntoEmptyDir(t *testing.T) {
	r := &shell.Recorder{}
	dir := t.TempDir()
	require.NoError(t, (&Client{Runner: r}).CloneOrUpdate(context.Background(), "git@github.com:example/app.git", "main", dir))
	assert.Len(t, r.Lines(), 1)
}

func TestUpdateExistingCheckout(t *testing.T) {
	r := &shell.Recorder{}
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitmodules"), nil, 0644))

	require.NoError(t, (&Client{Runner: r}).CloneOrUpdate(context.Background(), "https://github.com/example/app.git", "release", dir))
	assert.Equal(t, []string{
		"git fetch origin release",
		"git reset --hard origin/release",
		"git submodule update --init --recursive",
	}, r.Lines())
}

func TestRefusesNonEmptyNonCheckout(t *testing.T) {
	r := &shell.Recorder{}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0644))

	err := (&Client{Runner: r}).CloneOrUpdate(context.Background(), "https://github.com/example/app.git", "main", dir)
	require.Error(t, err)
	assert.Empty(t, r.Lines())
}
