package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/reviewapps-dev/siteup/internal/spec"
)

type Kind string

const (
	KindHTTPVhost     Kind = "http-vhost"
	KindSSLVhost      Kind = "ssl-vhost"
	KindRedirectVhost Kind = "redirect-vhost"
	KindSupervisor    Kind = "supervisor"
	KindFirewall      Kind = "firewall"
	KindUpdateScript  Kind = "script-update"
	KindRestartScript Kind = "script-restart"
	KindLogsScript    Kind = "script-logs"
	KindStatusScript  Kind = "script-status"
	KindRenewCron     Kind = "renew-cron"
)

// IsVhost reports whether the artifact is loaded by the web server.
func (k Kind) IsVhost() bool {
	return k == KindHTTPVhost || k == KindSSLVhost || k == KindRedirectVhost
}

func (k Kind) IsScript() bool {
	switch k {
	case KindUpdateScript, KindRestartScript, KindLogsScript, KindStatusScript:
		return true
	}
	return false
}

// Artifact is one rendered file. Name carries the supervisor service id for
// supervisor artifacts.
type Artifact struct {
	Kind    Kind
	Path    string
	Content []byte
	Mode    os.FileMode
	Name    string
}

// RenderError means no rendering rule exists for the requested combination.
// It indicates a defect upstream of the renderer, never bad operator input.
type RenderError struct {
	Kind   Kind
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %s", e.Kind, e.Reason)
}

func renderErr(kind Kind, format string, args ...any) error {
	return &RenderError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

type WebLayout struct {
	SitesDir string
	LogDir   string
	Service  string
	// TestCommand checks the whole web server configuration, e.g. "nginx -t".
	TestCommand spec.Command
}

// Layout is where artifacts land on the host and the host facts they embed.
type Layout struct {
	Nginx  WebLayout
	Apache WebLayout

	SystemdUnitDir string
	PM2ConfigDir   string
	PM2MaxMemory   string
	FirewallDir    string
	ScriptsDir     string
	CronDir        string
	AppLogDir      string

	ACMEWebroot string
	FPMSocket   string
	SSHPort     int

	ServiceUser  string
	ServiceGroup string

	RenewSchedule string
	// Binary is the siteup executable invoked by the renewal cron entry.
	Binary  string
	LogFile string
}

func (l Layout) web(ws spec.WebServer) WebLayout {
	if ws == spec.Apache {
		return l.Apache
	}
	return l.Nginx
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("siteup").Option("missingkey=error").Funcs(template.FuncMap{
	"json": toJSON,
}).ParseFS(templateFS, "templates/*.tmpl"))

func toJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

type Renderer struct {
	layout Layout
}

func New(layout Layout) *Renderer {
	return &Renderer{layout: layout}
}

func (r *Renderer) Layout() Layout { return r.layout }

// Kinds lists the artifacts a spec produces, in activation order.
func (r *Renderer) Kinds(s *spec.DeploymentSpec) []Kind {
	var kinds []Kind
	if supervised(s) {
		kinds = append(kinds, KindSupervisor)
	}
	kinds = append(kinds, KindHTTPVhost)
	if s.TLS.Enabled() {
		kinds = append(kinds, KindSSLVhost, KindRedirectVhost)
	}
	if s.FirewallEnabled {
		kinds = append(kinds, KindFirewall)
	}
	kinds = append(kinds, KindUpdateScript, KindRestartScript, KindLogsScript, KindStatusScript)
	if s.TLS.Mode == spec.SSLLetsEncrypt {
		kinds = append(kinds, KindRenewCron)
	}
	return kinds
}

func supervised(s *spec.DeploymentSpec) bool {
	return s.ProcessManager == spec.ProcPM2 || s.ProcessManager == spec.ProcSystemd
}

// Render produces one artifact. It is pure: the same spec and kind always
// give byte-identical output.
func (r *Renderer) Render(s *spec.DeploymentSpec, kind Kind) (Artifact, error) {
	path, err := r.Path(s, kind)
	if err != nil {
		return Artifact{}, err
	}

	var content string
	mode := os.FileMode(0644)
	name := ""

	switch kind {
	case KindHTTPVhost, KindSSLVhost, KindRedirectVhost:
		content, err = r.vhost(s, kind)
	case KindSupervisor:
		name = s.ServiceID()
		switch s.ProcessManager {
		case spec.ProcPM2:
			content, err = r.pm2(s)
		case spec.ProcSystemd:
			content, err = r.systemd(s)
		}
	case KindFirewall:
		content, err = r.firewall(s)
		mode = 0750
	case KindUpdateScript, KindRestartScript, KindLogsScript, KindStatusScript:
		content, err = r.script(s, kind)
		mode = 0750
	case KindRenewCron:
		content, err = r.renewCron(s)
	}
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{Kind: kind, Path: path, Content: []byte(content), Mode: mode, Name: name}, nil
}

// RenderAll renders every artifact the spec produces.
func (r *Renderer) RenderAll(s *spec.DeploymentSpec) ([]Artifact, error) {
	var out []Artifact
	for _, k := range r.Kinds(s) {
		a, err := r.Render(s, k)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Path returns the destination of an artifact without rendering it.
func (r *Renderer) Path(s *spec.DeploymentSpec, kind Kind) (string, error) {
	id := s.ServiceID()
	switch kind {
	case KindHTTPVhost, KindRedirectVhost:
		return filepath.Join(r.layout.web(s.WebServer).SitesDir, s.Domain+".conf"), nil
	case KindSSLVhost:
		if !s.TLS.Enabled() {
			return "", renderErr(kind, "tls is disabled")
		}
		return filepath.Join(r.layout.web(s.WebServer).SitesDir, s.Domain+"-ssl.conf"), nil
	case KindSupervisor:
		switch s.ProcessManager {
		case spec.ProcPM2:
			return r.PM2ConfigPath(s), nil
		case spec.ProcSystemd:
			return filepath.Join(r.layout.SystemdUnitDir, id+".service"), nil
		}
		return "", renderErr(kind, "no supervisor for process manager %q", s.ProcessManager)
	case KindFirewall:
		return filepath.Join(r.layout.FirewallDir, id+".sh"), nil
	case KindUpdateScript, KindRestartScript, KindLogsScript, KindStatusScript:
		return filepath.Join(r.layout.ScriptsDir, id, strings.TrimPrefix(string(kind), "script-")+".sh"), nil
	case KindRenewCron:
		if s.TLS.Mode != spec.SSLLetsEncrypt {
			return "", renderErr(kind, "renewal only applies to letsencrypt certificates")
		}
		return filepath.Join(r.layout.CronDir, "siteup-"+id), nil
	}
	return "", renderErr(kind, "unknown artifact kind")
}

func (r *Renderer) PM2ConfigPath(s *spec.DeploymentSpec) string {
	return filepath.Join(r.layout.PM2ConfigDir, s.ServiceID()+".config.js")
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
