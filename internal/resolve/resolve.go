package resolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/reviewapps-dev/siteup/internal/answers"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

// ValidationError rejects raw answers before anything is rendered.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type Options struct {
	// CertDir holds issued and self-signed certificates as <domain>/fullchain.pem.
	CertDir string
	// SitesRoot is the parent of default app roots.
	SitesRoot string
	// Readable reports whether a file can be opened. Defaults to os.Open.
	Readable func(path string) bool
}

type Resolver struct {
	opts     Options
	validate *validator.Validate
}

func New(opts Options) *Resolver {
	if opts.CertDir == "" {
		opts.CertDir = "/etc/siteup/certs"
	}
	if opts.SitesRoot == "" {
		opts.SitesRoot = "/var/www"
	}
	if opts.Readable == nil {
		opts.Readable = readable
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Resolver{opts: opts, validate: v}
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Resolve turns raw answers into a DeploymentSpec. It is the only producer of
// specs: every default and derived flag is filled here, then the spec's
// invariants are checked before it is returned.
func (r *Resolver) Resolve(raw *answers.RawAnswers) (*spec.DeploymentSpec, error) {
	if raw == nil {
		return nil, invalid("answers", "missing")
	}
	if err := r.checkShape(raw); err != nil {
		return nil, err
	}

	s := &spec.DeploymentSpec{
		WebServer: spec.WebServer(raw.WebServer),
		AppKind:   spec.AppKind(raw.AppKind),
		Database:  spec.Database(orDefault(raw.Database, string(spec.DBNone))),
	}

	if err := r.resolveMode(s, raw); err != nil {
		return nil, err
	}
	if err := r.resolveHosts(s, raw); err != nil {
		return nil, err
	}

	s.AppName = orDefault(raw.AppName, s.Domain)
	if spec.ServiceID(s.AppName) == "" {
		return nil, invalid("app_name", "%q has no usable characters", s.AppName)
	}
	s.AppRoot = filepath.Clean(orDefault(raw.AppRoot, filepath.Join(r.opts.SitesRoot, s.Domain)))

	if s.AppKind.UsesNode() {
		s.PackageManager = spec.PackageManager(orDefault(raw.PackageManager, string(spec.NPM)))
	}

	if s.NeedsProxy {
		s.Port = raw.Port
		if s.Port == 0 {
			s.Port = defaultPorts[s.AppKind]
		}
	} else {
		docRoot, err := r.docRoot(s, raw)
		if err != nil {
			return nil, err
		}
		s.DocRoot = docRoot
	}

	if err := r.resolveCommands(s, raw); err != nil {
		return nil, err
	}
	if err := r.resolveProcess(s, raw); err != nil {
		return nil, err
	}
	if err := r.resolveTLS(s, raw); err != nil {
		return nil, err
	}

	if raw.Git.Repo != "" {
		if !validGitURL(raw.Git.Repo) {
			return nil, invalid("git.repo", "%q is not a git URL", raw.Git.Repo)
		}
		s.Git = &spec.GitSource{RepoURL: raw.Git.Repo, Branch: orDefault(raw.Git.Branch, "main")}
	}

	s.FirewallEnabled = raw.Firewall == nil || *raw.Firewall
	s.ProbePath = orDefault(raw.Probe.Path, "/")
	s.ProbeWebSocketPath = raw.Probe.WebSocketPath
	if s.ProbeWebSocketPath != "" && !s.NeedsProxy {
		return nil, invalid("probe.websocket_path", "only proxied apps accept websocket connections")
	}

	if err := s.Check(); err != nil {
		var ie *spec.InvariantError
		if errors.As(err, &ie) {
			return nil, &ValidationError{Field: ie.Field, Reason: ie.Reason}
		}
		return nil, err
	}
	return s, nil
}

func (r *Resolver) checkShape(raw *answers.RawAnswers) error {
	err := r.validate.Struct(raw)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	reason := fmt.Sprintf("failed %q rule", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed %q rule (%s)", fe.Tag(), fe.Param())
	}
	if v := fmt.Sprint(fe.Value()); v != "" && v != "0" {
		reason = fmt.Sprintf("%q %s", v, reason)
	}
	return &ValidationError{Field: field, Reason: reason}
}

func (r *Resolver) resolveMode(s *spec.DeploymentSpec, raw *answers.RawAnswers) error {
	mode := spec.FrontendMode(raw.FrontendMode)
	if !s.AppKind.IsFrontend() {
		if mode != "" && mode != spec.ModeNone {
			return invalid("frontend_mode", "%s apps have no frontend mode", s.AppKind)
		}
		mode = spec.ModeNone
	} else if mode == "" || mode == spec.ModeNone {
		mode = spec.DefaultFrontendMode(s.AppKind)
	} else if !spec.ValidFrontendMode(s.AppKind, mode) {
		return invalid("frontend_mode", "%s does not support %s mode", s.AppKind, mode)
	}

	s.FrontendMode = mode
	s.NeedsProxy = spec.NeedsProxy(s.AppKind, mode)
	v, err := spec.VariantFor(s.AppKind, mode, s.NeedsProxy)
	if err != nil {
		return invalid("frontend_mode", "%v", err)
	}
	s.Variant = v
	return nil
}

// IsRootDomain applies the interior-dot rule: exactly one dot is a root
// domain. Two-label public suffixes such as example.co.uk are classified as
// subdomains.
func IsRootDomain(domain string) bool {
	return strings.Count(strings.TrimSuffix(domain, "."), ".") == 1
}

func (r *Resolver) resolveHosts(s *spec.DeploymentSpec, raw *answers.RawAnswers) error {
	domain := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(raw.Domain), "."))
	s.Domain = domain

	var aliases []string
	if IsRootDomain(domain) {
		if raw.IncludeWWW == nil || *raw.IncludeWWW {
			aliases = append(aliases, "www."+domain)
		}
		for _, sub := range raw.Subdomains {
			host := strings.ToLower(strings.TrimSuffix(sub, "."))
			if !strings.Contains(host, ".") {
				host = host + "." + domain
			} else if !strings.HasSuffix(host, "."+domain) {
				return invalid("subdomains", "%q is not under %s", sub, domain)
			}
			aliases = append(aliases, host)
		}
	} else {
		if raw.IncludeWWW != nil && *raw.IncludeWWW {
			return invalid("include_www", "%s is a subdomain; www aliases apply to root domains only", domain)
		}
		if len(raw.Subdomains) > 0 {
			return invalid("subdomains", "%s is a subdomain; extra subdomains apply to root domains only", domain)
		}
	}

	seen := map[string]bool{domain: true}
	for _, a := range aliases {
		if seen[a] {
			return invalid("subdomains", "hostname %s is listed twice", a)
		}
		seen[a] = true
	}
	s.Aliases = aliases
	return nil
}

func (r *Resolver) docRoot(s *spec.DeploymentSpec, raw *answers.RawAnswers) (string, error) {
	switch s.AppKind {
	case spec.KindStatic:
		return s.AppRoot, nil
	case spec.KindPHP:
		return joinUnder(s.AppRoot, orDefault(raw.PHPDocRoot, "public"), "php_doc_root")
	}
	out, ok := buildOutputs[s.AppKind][s.FrontendMode]
	if !ok {
		return "", invalid("frontend_mode", "no build output for %s in %s mode", s.AppKind, s.FrontendMode)
	}
	return joinUnder(s.AppRoot, orDefault(raw.BuildOutput, out), "build_output")
}

// joinUnder joins rel onto root and rejects paths that escape root.
func joinUnder(root, rel, field string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", invalid(field, "%q must be relative to app_root", rel)
	}
	p := filepath.Join(root, rel)
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", invalid(field, "%q escapes app_root", rel)
	}
	return p, nil
}

func (r *Resolver) resolveCommands(s *spec.DeploymentSpec, raw *answers.RawAnswers) error {
	switch {
	case s.AppKind.UsesNode():
		pm := packageManagers[s.PackageManager]
		s.Install = []spec.Command{pm.install}
		if s.AppKind.IsFrontend() {
			s.BuildCommand = pm.build
		}
	case s.AppKind == spec.KindPython:
		s.Install = pythonInstall(s.AppRoot)
	}

	if raw.BuildCommand != "" {
		c, err := spec.ParseCommand(raw.BuildCommand)
		if err != nil {
			return invalid("build_command", "%v", err)
		}
		s.BuildCommand = c
	}

	if s.AppKind == spec.KindProxy {
		if raw.StartCommand != "" {
			return invalid("start_command", "proxy deployments forward to an existing upstream and run no process")
		}
		return nil
	}
	if !s.NeedsProxy {
		return nil
	}

	if raw.StartCommand != "" {
		c, err := spec.ParseCommand(raw.StartCommand)
		if err != nil {
			return invalid("start_command", "%v", err)
		}
		s.StartCommand = c
		return nil
	}
	c, ok := startCommand(s.AppKind, s.FrontendMode, s.AppRoot, s.Port,
		orDefault(raw.Entry, "index.js"), orDefault(raw.WSGIModule, "app:app"))
	if !ok {
		return invalid("start_command", "required for %s apps", s.AppKind)
	}
	s.StartCommand = c
	return nil
}

func (r *Resolver) resolveProcess(s *spec.DeploymentSpec, raw *answers.RawAnswers) error {
	pm := spec.ProcessManager(raw.ProcessManager)
	if s.StartCommand.IsZero() {
		// Static, PHP and proxy-only deployments have nothing to supervise.
		s.ProcessManager = spec.ProcNone
		return nil
	}

	switch pm {
	case "":
		pm = spec.ProcPM2
		if s.AppKind == spec.KindPython {
			pm = spec.ProcSystemd
		}
	case spec.ProcNone:
		return invalid("process_manager", "%s apps run a process and need pm2 or systemd", s.AppKind)
	}
	s.ProcessManager = pm

	if pm == spec.ProcPM2 {
		s.PM2ExecMode = "fork"
		if clusterSafe(s.AppKind, s.FrontendMode) && s.StartCommand.Tool == "node" {
			s.PM2ExecMode = "cluster"
		}
	}
	return nil
}

func (r *Resolver) resolveTLS(s *spec.DeploymentSpec, raw *answers.RawAnswers) error {
	mode := spec.SSLMode(orDefault(raw.SSL.Mode, string(spec.SSLNone)))
	s.TLS = spec.TLS{Mode: mode}

	switch mode {
	case spec.SSLNone:
		return nil
	case spec.SSLLetsEncrypt:
		if raw.SSL.Email == "" {
			return invalid("ssl.email", "required for letsencrypt")
		}
		s.TLS.Email = raw.SSL.Email
		fallthrough
	case spec.SSLSelfSigned:
		dir := filepath.Join(r.opts.CertDir, s.Domain)
		s.TLS.CertPath = filepath.Join(dir, "fullchain.pem")
		s.TLS.KeyPath = filepath.Join(dir, "privkey.pem")
	case spec.SSLExisting:
		if raw.SSL.CertPath == "" || !r.opts.Readable(raw.SSL.CertPath) {
			return invalid("ssl.cert_path", "%q is not a readable file", raw.SSL.CertPath)
		}
		if raw.SSL.KeyPath == "" || !r.opts.Readable(raw.SSL.KeyPath) {
			return invalid("ssl.key_path", "%q is not a readable file", raw.SSL.KeyPath)
		}
		s.TLS.CertPath = raw.SSL.CertPath
		s.TLS.KeyPath = raw.SSL.KeyPath
	}
	return nil
}

func validGitURL(u string) bool {
	for _, prefix := range []string{"git@", "https://", "http://", "ssh://", "git://", "file://"} {
		if strings.HasPrefix(u, prefix) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
