package app

import "time"

type Status string

const (
	StatusSucceeded Status = "succeeded"
	// StatusPartial means the run finished but at least one artifact did
	// not reach the reloaded state.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

type ArtifactRecord struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	State   string `json:"state"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// Run is one apply of a DeploymentSpec to the host.
type Run struct {
	ID          string           `json:"id"`
	Domain      string           `json:"domain"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Status      Status           `json:"status"`
	Error       string           `json:"error,omitempty"`
	Fingerprint string           `json:"fingerprint"`
	SpecJSON    string           `json:"spec"`
	BackupDir   string           `json:"backup_dir"`
	LogPath     string           `json:"log_path"`
	Artifacts   []ArtifactRecord `json:"artifacts"`
}

// Site is the latest known state of one domain.
type Site struct {
	Domain     string
	LastRunID  string
	LastStatus Status
	UpdatedAt  time.Time
}
