package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "siteup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func run(id, domain string, status Status, started time.Time) *Run {
	return &Run{
		ID:          id,
		Domain:      domain,
		StartedAt:   started,
		FinishedAt:  started.Add(time.Minute),
		Status:      status,
		Fingerprint: "fp-" + id,
		SpecJSON:    `{"domain":"` + domain + `"}`,
		BackupDir:   "/var/lib/siteup/backups/" + id,
		LogPath:     "/var/log/siteup/siteup.log",
		Artifacts: []ArtifactRecord{
			{Kind: "http-vhost", Path: "/etc/nginx/sites-available/" + domain + ".conf", State: "reloaded", Changed: true},
			{Kind: "ssl-vhost", Path: "/etc/nginx/sites-available/" + domain + "-ssl.conf", State: "validation-failed", Error: "nginx -t failed"},
		},
	}
}

func TestSaveAndListRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, run("r1", "example.com", StatusSucceeded, t0)))
	require.NoError(t, s.SaveRun(ctx, run("r2", "example.com", StatusPartial, t0.Add(time.Hour))))
	require.NoError(t, s.SaveRun(ctx, run("r3", "other.example.com", StatusFailed, t0.Add(2*time.Hour))))

	runs, err := s.ListRuns(ctx, "example.com", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, StatusPartial, runs[0].Status)
	assert.True(t, runs[0].StartedAt.Equal(t0.Add(time.Hour)))
	require.Len(t, runs[0].Artifacts, 2)
	assert.Equal(t, "http-vhost", runs[0].Artifacts[0].Kind)
	assert.True(t, runs[0].Artifacts[0].Changed)
	assert.Equal(t, "nginx -t failed", runs[0].Artifacts[1].Error)

	all, err := s.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r3", all[0].ID)
}

func TestLastSucceeded(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.LastSucceeded(ctx, "example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveRun(ctx, run("r1", "example.com", StatusSucceeded, t0)))
	require.NoError(t, s.SaveRun(ctx, run("r2", "example.com", StatusFailed, t0.Add(time.Hour))))

	last, err := s.LastSucceeded(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "r1", last.ID)
	assert.Equal(t, "fp-r1", last.Fingerprint)
	assert.Equal(t, `{"domain":"example.com"}`, last.SpecJSON)
}

func TestSites(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, run("r1", "b.example.com", StatusSucceeded, t0)))
	require.NoError(t, s.SaveRun(ctx, run("r2", "a.example.com", StatusSucceeded, t0)))
	require.NoError(t, s.SaveRun(ctx, run("r3", "b.example.com", StatusPartial, t0.Add(time.Hour))))

	sites, err := s.Sites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "a.example.com", sites[0].Domain)
	assert.Equal(t, "r3", sites[1].LastRunID)
	assert.Equal(t, StatusPartial, sites[1].LastStatus)
}

func TestDuplicateRunIDRollsBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Now()

	require.NoError(t, s.SaveRun(ctx, run("r1", "example.com", StatusSucceeded, t0)))
	assert.Error(t, s.SaveRun(ctx, run("r1", "example.com", StatusFailed, t0)))

	runs, err := s.ListRuns(ctx, "example.com", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Artifacts, 2)
}
