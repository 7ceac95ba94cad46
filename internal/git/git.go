package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/reviewapps-dev/siteup/internal/shell"
)

type Client struct {
	Runner shell.Runner
}

// CloneOrUpdate leaves dir at the tip of branch. An existing checkout is
// fetched and hard reset; a missing or empty dir gets a shallow clone. A
// non-empty dir that is not a checkout is an error, never overwritten.
func (c *Client) CloneOrUpdate(ctx context.Context, repoURL, branch, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return c.FetchAndReset(ctx, dir, branch)
	}

	empty, err := isEmptyDir(dir)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("git: %s is not empty and is not a git checkout", dir)
	}
	return c.Clone(ctx, repoURL, branch, dir)
}

func (c *Client) Clone(ctx context.Context, repoURL, branch, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if _, err := c.Runner.Run(ctx, shell.Command("git", "clone", "--depth", "1", "--branch", branch, repoURL, dest)); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	return c.InitSubmodules(ctx, dest)
}

func (c *Client) FetchAndReset(ctx context.Context, repoDir, branch string) error {
	if _, err := c.Runner.Run(ctx, shell.Command("git", "fetch", "origin", branch).In(repoDir)); err != nil {
		return fmt.Errorf("git fetch: %w", err)
	}
	if _, err := c.Runner.Run(ctx, shell.Command("git", "reset", "--hard", "origin/"+branch).In(repoDir)); err != nil {
		return fmt.Errorf("git reset: %w", err)
	}
	return c.InitSubmodules(ctx, repoDir)
}

func (c *Client) InitSubmodules(ctx context.Context, repoDir string) error {
	if _, err := os.Stat(filepath.Join(repoDir, ".gitmodules")); err != nil {
		return nil
	}
	if _, err := c.Runner.Run(ctx, shell.Command("git", "submodule", "update", "--init", "--recursive").In(repoDir)); err != nil {
		return fmt.Errorf("git submodule: %w", err)
	}
	return nil
}

func (c *Client) CommitSHA(ctx context.Context, repoDir string) (string, error) {
	out, err := c.Runner.Run(ctx, shell.Command("git", "rev-parse", "HEAD").In(repoDir))
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return out, nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
