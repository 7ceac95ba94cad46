package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/reviewapps-dev/siteup/internal/render"
)

// Seams for tests that run unprivileged.
var (
	chown       = os.Chown
	lookupUser  = user.Lookup
	lookupGroup = user.LookupGroup
)

// WriteError is fatal for one artifact and leaves the rest of the run going.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Outcome describes what a write did to the file system. Restore uses it to
// put the previous content back.
type Outcome struct {
	Path       string
	Created    bool
	Changed    bool
	BackupPath string
}

// Writer applies artifacts for one run. Every file it overwrites is copied
// into the run's backup set first, stored under its absolute path.
type Writer struct {
	backupSet string
	owner     string
	group     string
}

// New returns a writer whose backup set is <backupRoot>/<runStamp>. An
// empty owner leaves ownership untouched.
func New(backupRoot, runStamp, owner, group string) *Writer {
	return &Writer{
		backupSet: filepath.Join(backupRoot, runStamp),
		owner:     owner,
		group:     group,
	}
}

func (w *Writer) BackupSet() string { return w.backupSet }

func (w *Writer) Write(a render.Artifact) (Outcome, error) {
	out := Outcome{Path: a.Path}
	if !filepath.IsAbs(a.Path) {
		return out, &WriteError{Path: a.Path, Op: "path", Err: errors.New("artifact path is not absolute")}
	}

	if err := os.MkdirAll(filepath.Dir(a.Path), 0755); err != nil {
		return out, &WriteError{Path: a.Path, Op: "mkdir", Err: err}
	}

	current, err := os.ReadFile(a.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		out.Created = true
	case err != nil:
		return out, &WriteError{Path: a.Path, Op: "read", Err: err}
	case bytes.Equal(current, a.Content):
		// Unchanged content still gets its mode and owner normalized.
		return out, w.normalize(a)
	}

	if !out.Created {
		backup := w.backupPath(a.Path)
		if err := os.MkdirAll(filepath.Dir(backup), 0700); err != nil {
			return out, &WriteError{Path: a.Path, Op: "backup", Err: err}
		}
		if err := copyFile(a.Path, backup); err != nil {
			return out, &WriteError{Path: a.Path, Op: "backup", Err: err}
		}
		out.BackupPath = backup
	}

	if err := replace(a.Path, a.Content, a.Mode); err != nil {
		return out, &WriteError{Path: a.Path, Op: "write", Err: err}
	}
	out.Changed = true

	return out, w.normalize(a)
}

// backupPath keeps the first backup of a path in the run as the pre-run
// version. Later writes of the same path get numbered suffixes.
func (w *Writer) backupPath(path string) string {
	backup := filepath.Join(w.backupSet, strings.TrimPrefix(path, "/"))
	candidate := backup
	for n := 1; ; n++ {
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = backup + "." + strconv.Itoa(n)
	}
}

// Restore undoes a write: the backup goes back in place, or a file the
// write created is removed.
func (w *Writer) Restore(o Outcome) error {
	switch {
	case !o.Changed:
		return nil
	case o.Created:
		if err := os.Remove(o.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &WriteError{Path: o.Path, Op: "restore", Err: err}
		}
		return nil
	case o.BackupPath == "":
		return &WriteError{Path: o.Path, Op: "restore", Err: errors.New("no backup recorded")}
	}

	data, err := os.ReadFile(o.BackupPath)
	if err != nil {
		return &WriteError{Path: o.Path, Op: "restore", Err: err}
	}
	info, err := os.Stat(o.BackupPath)
	if err != nil {
		return &WriteError{Path: o.Path, Op: "restore", Err: err}
	}
	if err := replace(o.Path, data, info.Mode().Perm()); err != nil {
		return &WriteError{Path: o.Path, Op: "restore", Err: err}
	}
	return nil
}

func (w *Writer) normalize(a render.Artifact) error {
	if err := os.Chmod(a.Path, a.Mode); err != nil {
		return &WriteError{Path: a.Path, Op: "chmod", Err: err}
	}

	owner, group := w.owner, w.group
	if owner == "" {
		return nil
	}
	if a.Kind == render.KindRenewCron {
		// cron ignores entries in cron.d that root does not own.
		owner, group = "root", "root"
	}
	uid, gid, err := ids(owner, group)
	if err != nil {
		return &WriteError{Path: a.Path, Op: "chown", Err: err}
	}
	if err := chown(a.Path, uid, gid); err != nil {
		return &WriteError{Path: a.Path, Op: "chown", Err: err}
	}
	return nil
}

func ids(owner, group string) (int, int, error) {
	u, err := lookupUser(owner)
	if err != nil {
		return 0, 0, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("uid %q: %w", u.Uid, err)
	}
	gidText := u.Gid
	if group != "" {
		g, err := lookupGroup(group)
		if err != nil {
			return 0, 0, err
		}
		gidText = g.Gid
	}
	gid, err := strconv.Atoi(gidText)
	if err != nil {
		return 0, 0, fmt.Errorf("gid %q: %w", gidText, err)
	}
	return uid, gid, nil
}

// replace writes data next to path and renames it over, so readers never
// see a partial file.
func replace(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".siteup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
