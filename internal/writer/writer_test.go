package writer

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/siteup/internal/render"
)

type chownCall struct {
	path     string
	uid, gid int
}

func patchOwnership(t *testing.T) *[]chownCall {
	t.Helper()
	var calls []chownCall
	origChown, origUser, origGroup := chown, lookupUser, lookupGroup
	chown = func(path string, uid, gid int) error {
		calls = append(calls, chownCall{path, uid, gid})
		return nil
	}
	lookupUser = func(name string) (*user.User, error) {
		switch name {
		case "www-data":
			return &user.User{Username: name, Uid: "33", Gid: "33"}, nil
		case "root":
			return &user.User{Username: name, Uid: "0", Gid: "0"}, nil
		}
		return nil, user.UnknownUserError(name)
	}
	lookupGroup = func(name string) (*user.Group, error) {
		switch name {
		case "www-data":
			return &user.Group{Name: name, Gid: "33"}, nil
		case "root":
			return &user.Group{Name: name, Gid: "0"}, nil
		}
		return nil, user.UnknownGroupError(name)
	}
	t.Cleanup(func() { chown, lookupUser, lookupGroup = origChown, origUser, origGroup })
	return &calls
}

func artifact(path, content string) render.Artifact {
	return render.Artifact{Kind: render.KindHTTPVhost, Path: path, Content: []byte(content), Mode: 0644}
}

func TestWriteCreatesFile(t *testing.T) {
	calls := patchOwnership(t)
	root := t.TempDir()
	w := New(filepath.Join(root, "backups"), "20260101-000000", "www-data", "www-data")

	path := filepath.Join(root, "sites-available", "example.com.conf")
	out, err := w.Write(artifact(path, "server {}\n"))
	require.NoError(t, err)

	assert.True(t, out.Created)
	assert.True(t, out.Changed)
	assert.Empty(t, out.BackupPath)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "server {}\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
	assert.Equal(t, []chownCall{{path, 33, 33}}, *calls)
}

func TestWriteBacksUpPreviousContent(t *testing.T) {
	patchOwnership(t)
	root := t.TempDir()
	w := New(filepath.Join(root, "backups"), "run1", "", "")

	path := filepath.Join(root, "etc", "site.conf")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0600))

	out, err := w.Write(artifact(path, "new\n"))
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.True(t, out.Changed)

	assert.Equal(t, filepath.Join(root, "backups", "run1", strings.TrimPrefix(path, "/")), out.BackupPath)
	backup, err := os.ReadFile(out.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(backup))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(current))
}

func TestSecondWriteKeepsPreRunBackup(t *testing.T) {
	patchOwnership(t)
	root := t.TempDir()
	w := New(filepath.Join(root, "backups"), "run1", "", "")

	path := filepath.Join(root, "etc", "site.conf")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("v0\n"), 0644))

	first, err := w.Write(artifact(path, "v1\n"))
	require.NoError(t, err)
	second, err := w.Write(artifact(path, "v2\n"))
	require.NoError(t, err)

	assert.Equal(t, first.BackupPath+".1", second.BackupPath)
	pre, err := os.ReadFile(first.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "v0\n", string(pre))

	require.NoError(t, w.Restore(second))
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(current))
}

func TestWriteUnchangedSkipsBackupButNormalizes(t *testing.T) {
	calls := patchOwnership(t)
	root := t.TempDir()
	w := New(filepath.Join(root, "backups"), "run1", "www-data", "")

	path := filepath.Join(root, "update.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0600))

	a := artifact(path, "#!/bin/sh\n")
	a.Mode = 0750
	out, err := w.Write(a)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Empty(t, out.BackupPath)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), info.Mode().Perm())
	assert.Len(t, *calls, 1)

	_, err = os.Stat(filepath.Join(root, "backups"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCronIsRootOwned(t *testing.T) {
	calls := patchOwnership(t)
	root := t.TempDir()
	w := New(filepath.Join(root, "backups"), "run1", "www-data", "www-data")

	path := filepath.Join(root, "cron.d", "siteup-example-com")
	_, err := w.Write(render.Artifact{Kind: render.KindRenewCron, Path: path, Content: []byte("x\n"), Mode: 0644})
	require.NoError(t, err)
	assert.Equal(t, []chownCall{{path, 0, 0}}, *calls)
}

func TestWriteUnknownOwner(t *testing.T) {
	patchOwnership(t)
	root := t.TempDir()
	w := New(filepath.Join(root, "backups"), "run1", "nobody-here", "")

	_, err := w.Write(artifact(filepath.Join(root, "a.conf"), "x"))
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "chown", we.Op)
}

func TestWriteRejectsRelativePath(t *testing.T) {
	w := New(t.TempDir(), "run1", "", "")
	_, err := w.Write(artifact("relative.conf", "x"))
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "path", we.Op)
}

func TestRestore(t *testing.T) {
	patchOwnership(t)
	root := t.TempDir()
	w := New(filepath.Join(root, "backups"), "run1", "", "")

	existing := filepath.Join(root, "existing.conf")
	require.NoError(t, os.WriteFile(existing, []byte("good\n"), 0644))
	out, err := w.Write(artifact(existing, "broken\n"))
	require.NoError(t, err)
	require.NoError(t, w.Restore(out))
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "good\n", string(data))

	created := filepath.Join(root, "new.conf")
	out, err = w.Write(artifact(created, "broken\n"))
	require.NoError(t, err)
	require.NoError(t, w.Restore(out))
	_, err = os.Stat(created)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	assert.NoError(t, w.Restore(Outcome{Path: existing}))
}
