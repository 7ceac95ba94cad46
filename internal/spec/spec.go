package spec

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/mitchellh/hashstructure/v2"
)

type WebServer string

const (
	Nginx  WebServer = "nginx"
	Apache WebServer = "apache"
)

type AppKind string

const (
	KindNode    AppKind = "node"
	KindPython  AppKind = "python"
	KindPHP     AppKind = "php"
	KindNext    AppKind = "nextjs"
	KindNuxt    AppKind = "nuxtjs"
	KindReact   AppKind = "react"
	KindVue     AppKind = "vue"
	KindAngular AppKind = "angular"
	KindSvelte  AppKind = "svelte"
	KindStatic  AppKind = "static"
	KindProxy   AppKind = "proxy"
)

// IsFrontend reports whether the kind is a JS frontend framework with a
// build step and a frontend mode.
func (k AppKind) IsFrontend() bool {
	switch k {
	case KindNext, KindNuxt, KindReact, KindVue, KindAngular, KindSvelte:
		return true
	}
	return false
}

// UsesNode reports whether the kind installs dependencies with a JS package manager.
func (k AppKind) UsesNode() bool {
	return k == KindNode || k.IsFrontend()
}

type FrontendMode string

const (
	ModeNone       FrontendMode = "none"
	ModeSSR        FrontendMode = "ssr"
	ModeStatic     FrontendMode = "static"
	ModeSPA        FrontendMode = "spa"
	ModeStandalone FrontendMode = "standalone"
)

type PackageManager string

const (
	NPM  PackageManager = "npm"
	PNPM PackageManager = "pnpm"
	Yarn PackageManager = "yarn"
	Bun  PackageManager = "bun"
)

type SSLMode string

const (
	SSLNone        SSLMode = "none"
	SSLLetsEncrypt SSLMode = "letsencrypt"
	SSLSelfSigned  SSLMode = "selfsigned"
	SSLExisting    SSLMode = "existing"
)

type ProcessManager string

const (
	ProcNone    ProcessManager = "none"
	ProcPM2     ProcessManager = "pm2"
	ProcSystemd ProcessManager = "systemd"
)

type Database string

const (
	DBNone     Database = "none"
	MySQL      Database = "mysql"
	PostgreSQL Database = "postgresql"
)

// Command is a program and its arguments. It is never built by string
// concatenation; String quotes it for display and for shell-based artifacts.
type Command struct {
	Tool string   `json:"tool"`
	Args []string `json:"args,omitempty"`
}

func NewCommand(tool string, args ...string) Command {
	return Command{Tool: tool, Args: args}
}

// ParseCommand splits an operator-supplied command line with shell quoting rules.
func ParseCommand(line string) (Command, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return Command{}, err
	}
	if len(words) == 0 {
		return Command{}, nil
	}
	return Command{Tool: words[0], Args: words[1:]}, nil
}

func (c Command) IsZero() bool { return c.Tool == "" }

func (c Command) Argv() []string {
	if c.IsZero() {
		return nil
	}
	return append([]string{c.Tool}, c.Args...)
}

func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

type GitSource struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
}

type TLS struct {
	Mode     SSLMode `json:"mode"`
	Email    string  `json:"email,omitempty"`
	CertPath string  `json:"cert_path,omitempty"`
	KeyPath  string  `json:"key_path,omitempty"`
}

func (t TLS) Enabled() bool { return t.Mode != "" && t.Mode != SSLNone }

// DeploymentSpec is the resolved, validated record of every deployment
// choice. It is produced by the resolver and treated as read-only afterwards.
type DeploymentSpec struct {
	WebServer      WebServer      `json:"web_server"`
	AppKind        AppKind        `json:"app_kind"`
	FrontendMode   FrontendMode   `json:"frontend_mode"`
	PackageManager PackageManager `json:"package_manager,omitempty"`

	Domain  string   `json:"domain"`
	Aliases []string `json:"aliases,omitempty"`
	AppRoot string   `json:"app_root"`
	AppName string   `json:"app_name"`

	NeedsProxy bool    `json:"needs_proxy"`
	Port       int     `json:"port,omitempty"`
	DocRoot    string  `json:"doc_root,omitempty"`
	Variant    Variant `json:"variant"`

	Git *GitSource `json:"git,omitempty"`
	TLS TLS        `json:"tls"`

	ProcessManager ProcessManager `json:"process_manager"`
	// PM2ExecMode is "cluster" or "fork"; empty unless ProcessManager is pm2.
	PM2ExecMode  string    `json:"pm2_exec_mode,omitempty"`
	StartCommand Command   `json:"start_command"`
	BuildCommand Command   `json:"build_command"`
	Install      []Command `json:"install,omitempty"`

	Database        Database `json:"database"`
	FirewallEnabled bool     `json:"firewall_enabled"`

	ProbePath          string `json:"probe_path"`
	ProbeWebSocketPath string `json:"probe_websocket_path,omitempty"`
}

// Hostnames returns the primary domain followed by its aliases.
func (s *DeploymentSpec) Hostnames() []string {
	return append([]string{s.Domain}, s.Aliases...)
}

// ServiceID is the dot-free identifier used for supervisor units, process
// names, and per-app file names.
func (s *DeploymentSpec) ServiceID() string {
	return ServiceID(s.AppName)
}

func ServiceID(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// Fingerprint hashes every field of the spec. Two runs with the same
// fingerprint render identical artifacts.
func (s *DeploymentSpec) Fingerprint() (string, error) {
	h, err := hashstructure.Hash(s, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return fmt.Sprintf("%016x", h), nil
}
