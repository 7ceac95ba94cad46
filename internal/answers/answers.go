package answers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RawAnswers holds the operator's selections exactly as collected by the
// wizard or written in an answers file. Nothing here is defaulted or
// cross-checked; the resolver owns that.
type RawAnswers struct {
	WebServer      string `yaml:"web_server" validate:"required,oneof=nginx apache"`
	AppKind        string `yaml:"app_kind" validate:"required,oneof=node python php nextjs nuxtjs react vue angular svelte static proxy"`
	FrontendMode   string `yaml:"frontend_mode,omitempty" validate:"omitempty,oneof=none ssr static spa standalone"`
	PackageManager string `yaml:"package_manager,omitempty" validate:"omitempty,oneof=npm pnpm yarn bun"`

	Domain     string   `yaml:"domain" validate:"required,fqdn"`
	IncludeWWW *bool    `yaml:"include_www,omitempty"`
	Subdomains []string `yaml:"subdomains,omitempty" validate:"dive,hostname_rfc1123"`

	AppRoot string `yaml:"app_root,omitempty" validate:"omitempty,startswith=/"`
	AppName string `yaml:"app_name,omitempty" validate:"omitempty,max=64"`
	Port    int    `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	PHPDocRoot   string `yaml:"php_doc_root,omitempty"`
	BuildOutput  string `yaml:"build_output,omitempty"`
	Entry        string `yaml:"entry,omitempty"`
	WSGIModule   string `yaml:"wsgi_module,omitempty"`
	StartCommand string `yaml:"start_command,omitempty"`
	BuildCommand string `yaml:"build_command,omitempty"`

	Git            Git    `yaml:"git,omitempty"`
	SSL            SSL    `yaml:"ssl,omitempty"`
	ProcessManager string `yaml:"process_manager,omitempty" validate:"omitempty,oneof=none pm2 systemd"`
	Database       string `yaml:"database,omitempty" validate:"omitempty,oneof=none mysql postgresql"`
	Firewall       *bool  `yaml:"firewall,omitempty"`
	Probe          Probe  `yaml:"probe,omitempty"`
}

type Git struct {
	Repo   string `yaml:"repo,omitempty"`
	Branch string `yaml:"branch,omitempty"`
}

type SSL struct {
	Mode     string `yaml:"mode,omitempty" validate:"omitempty,oneof=none letsencrypt selfsigned existing"`
	Email    string `yaml:"email,omitempty" validate:"omitempty,email"`
	CertPath string `yaml:"cert_path,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

type Probe struct {
	Path          string `yaml:"path,omitempty" validate:"omitempty,startswith=/"`
	WebSocketPath string `yaml:"websocket_path,omitempty" validate:"omitempty,startswith=/"`
}

// Load reads an answers file. Unknown keys are rejected so a typo does not
// silently fall back to a default.
func Load(path string) (*RawAnswers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("answers: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*RawAnswers, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw RawAnswers
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("answers: empty document")
		}
		return nil, fmt.Errorf("answers parse: %w", err)
	}
	return &raw, nil
}

// Save writes the answers as YAML, readable only by the owner since the file
// may carry an ACME email and certificate paths.
func Save(path string, raw *RawAnswers) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("answers marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("answers: %w", err)
	}
	return nil
}

func Bool(b bool) *bool { return &b }
