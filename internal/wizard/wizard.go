// Package wizard collects deployment answers interactively.
package wizard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/go-playground/validator/v10"
	"github.com/mattn/go-isatty"

	"github.com/reviewapps-dev/siteup/internal/answers"
	"github.com/reviewapps-dev/siteup/internal/port"
	"github.com/reviewapps-dev/siteup/internal/resolve"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

var ErrNotTerminal = errors.New("wizard: stdin is not a terminal; write an answers file and use 'siteup apply -answers'")

type Options struct {
	// Ports suggests a free port for proxied apps. Nil uses the kind's default.
	Ports *port.Allocator
	// SitesRoot is the parent of the suggested app root.
	SitesRoot  string
	Accessible bool
}

// runForm is replaced in tests.
var runForm = func(f *huh.Form) error { return f.Run() }

var isTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// state holds the form-bound values. Every field is a string or bool so huh
// can bind to it; answers() converts them.
type state struct {
	webServer      string
	appKind        string
	frontendMode   string
	packageManager string

	domain     string
	includeWWW bool
	subdomains string

	appRoot string
	port    string

	phpDocRoot string
	entry      string
	wsgiModule string

	gitRepo   string
	gitBranch string

	sslMode  string
	sslEmail string
	certPath string
	keyPath  string

	processManager string
	database       string
	firewall       bool
}

// Run asks the questions and returns raw answers. It refuses to run without
// a terminal.
func Run(opts Options) (*answers.RawAnswers, error) {
	if !isTerminal() {
		return nil, ErrNotTerminal
	}
	if opts.SitesRoot == "" {
		opts.SitesRoot = "/var/www"
	}

	st := &state{
		webServer:  string(spec.Nginx),
		appKind:    string(spec.KindNode),
		includeWWW: true,
		gitBranch:  "main",
		sslMode:    string(spec.SSLLetsEncrypt),
		database:   string(spec.DBNone),
		firewall:   true,
	}
	form := func(fields ...huh.Field) error {
		return runForm(huh.NewForm(huh.NewGroup(fields...)).WithAccessible(opts.Accessible))
	}

	// --- Stack ---
	if err := form(
		huh.NewSelect[string]().
			Title("Web server").
			Options(huh.NewOption("nginx", string(spec.Nginx)), huh.NewOption("Apache", string(spec.Apache))).
			Value(&st.webServer),
		huh.NewSelect[string]().
			Title("Application type").
			Options(kindOptions()...).
			Value(&st.appKind),
	); err != nil {
		return nil, err
	}

	kind := spec.AppKind(st.appKind)
	st.frontendMode = string(spec.DefaultFrontendMode(kind))
	if modes := spec.FrontendModes(kind); len(modes) > 1 {
		if err := form(
			huh.NewSelect[string]().
				Title("Rendering mode").
				Options(modeOptions(kind)...).
				Value(&st.frontendMode),
		); err != nil {
			return nil, err
		}
	}
	if kind.UsesNode() {
		st.packageManager = string(spec.NPM)
		if err := form(
			huh.NewSelect[string]().
				Title("Package manager").
				Options(huh.NewOptions(string(spec.NPM), string(spec.PNPM), string(spec.Yarn), string(spec.Bun))...).
				Value(&st.packageManager),
		); err != nil {
			return nil, err
		}
	}

	// --- Domain ---
	if err := form(
		huh.NewInput().
			Title("Domain").
			Description("e.g. example.com or app.example.com").
			Value(&st.domain).
			Validate(validateDomain),
	); err != nil {
		return nil, err
	}
	st.domain = normalizeDomain(st.domain)
	if resolve.IsRootDomain(st.domain) {
		if err := form(
			huh.NewConfirm().
				Title("Also serve www." + st.domain + "?").
				Value(&st.includeWWW),
			huh.NewInput().
				Title("Extra subdomains").
				Description("Comma separated, e.g. api, admin. Leave empty for none.").
				Value(&st.subdomains).
				Validate(validateSubdomains),
		); err != nil {
			return nil, err
		}
	}

	// --- Application ---
	st.appRoot = filepath.Join(opts.SitesRoot, st.domain)
	fields := []huh.Field{
		huh.NewInput().
			Title("Application root").
			Value(&st.appRoot).
			Validate(validateAbs),
	}
	needsProxy := spec.NeedsProxy(kind, spec.FrontendMode(st.frontendMode))
	if needsProxy {
		st.port = strconv.Itoa(suggestPort(opts.Ports, spec.ServiceID(st.domain), kind))
		fields = append(fields, huh.NewInput().
			Title("Application port").
			Description("The app listens on 127.0.0.1 at this port.").
			Value(&st.port).
			Validate(validatePort))
	}
	switch kind {
	case spec.KindPHP:
		st.phpDocRoot = "public"
		fields = append(fields, huh.NewInput().Title("Document root (relative to app root)").Value(&st.phpDocRoot))
	case spec.KindNode:
		st.entry = "index.js"
		fields = append(fields, huh.NewInput().Title("Entry script").Value(&st.entry))
	case spec.KindPython:
		st.wsgiModule = "app:app"
		fields = append(fields, huh.NewInput().Title("WSGI module").Value(&st.wsgiModule))
	}
	fields = append(fields,
		huh.NewInput().
			Title("Git repository").
			Description("Leave empty when the code is already in place.").
			Value(&st.gitRepo),
	)
	if err := form(fields...); err != nil {
		return nil, err
	}
	if st.gitRepo != "" {
		if err := form(huh.NewInput().Title("Branch").Value(&st.gitBranch)); err != nil {
			return nil, err
		}
	}

	if needsProxy && kind != spec.KindProxy {
		st.processManager = string(spec.ProcPM2)
		if kind == spec.KindPython {
			st.processManager = string(spec.ProcSystemd)
		}
		if err := form(
			huh.NewSelect[string]().
				Title("Process manager").
				Options(huh.NewOptions(string(spec.ProcPM2), string(spec.ProcSystemd))...).
				Value(&st.processManager),
		); err != nil {
			return nil, err
		}
	}

	// --- TLS ---
	if err := form(
		huh.NewSelect[string]().
			Title("HTTPS").
			Options(
				huh.NewOption("Let's Encrypt", string(spec.SSLLetsEncrypt)),
				huh.NewOption("Self-signed", string(spec.SSLSelfSigned)),
				huh.NewOption("Existing certificate", string(spec.SSLExisting)),
				huh.NewOption("None (HTTP only)", string(spec.SSLNone)),
			).
			Value(&st.sslMode),
	); err != nil {
		return nil, err
	}
	switch spec.SSLMode(st.sslMode) {
	case spec.SSLLetsEncrypt:
		if err := form(huh.NewInput().Title("Contact email for Let's Encrypt").Value(&st.sslEmail).Validate(validateEmail)); err != nil {
			return nil, err
		}
	case spec.SSLExisting:
		if err := form(
			huh.NewInput().Title("Certificate chain path").Value(&st.certPath).Validate(validateAbs),
			huh.NewInput().Title("Private key path").Value(&st.keyPath).Validate(validateAbs),
		); err != nil {
			return nil, err
		}
	}

	// --- Host ---
	if err := form(
		huh.NewSelect[string]().
			Title("Database").
			Options(huh.NewOptions(string(spec.DBNone), string(spec.MySQL), string(spec.PostgreSQL))...).
			Value(&st.database),
		huh.NewConfirm().
			Title("Configure the ufw firewall?").
			Description("Denies incoming traffic except SSH and the web server.").
			Value(&st.firewall),
	); err != nil {
		return nil, err
	}

	return st.answers(), nil
}

func (st *state) answers() *answers.RawAnswers {
	raw := &answers.RawAnswers{
		WebServer:      st.webServer,
		AppKind:        st.appKind,
		PackageManager: st.packageManager,
		Domain:         normalizeDomain(st.domain),
		AppRoot:        st.appRoot,
		PHPDocRoot:     st.phpDocRoot,
		Entry:          st.entry,
		WSGIModule:     st.wsgiModule,
		ProcessManager: st.processManager,
		Database:       st.database,
		Firewall:       answers.Bool(st.firewall),
		SSL: answers.SSL{
			Mode:     st.sslMode,
			Email:    strings.TrimSpace(st.sslEmail),
			CertPath: st.certPath,
			KeyPath:  st.keyPath,
		},
	}
	kind := spec.AppKind(st.appKind)
	if kind.IsFrontend() {
		raw.FrontendMode = st.frontendMode
	}
	if resolve.IsRootDomain(raw.Domain) {
		raw.IncludeWWW = answers.Bool(st.includeWWW)
		raw.Subdomains = splitList(st.subdomains)
	}
	if p, err := strconv.Atoi(strings.TrimSpace(st.port)); err == nil {
		raw.Port = p
	}
	if st.gitRepo != "" {
		raw.Git = answers.Git{Repo: strings.TrimSpace(st.gitRepo), Branch: strings.TrimSpace(st.gitBranch)}
	}
	return raw
}

func kindOptions() []huh.Option[string] {
	labels := map[spec.AppKind]string{
		spec.KindNode:    "Node.js",
		spec.KindPython:  "Python (WSGI)",
		spec.KindPHP:     "PHP",
		spec.KindNext:    "Next.js",
		spec.KindNuxt:    "Nuxt",
		spec.KindReact:   "React",
		spec.KindVue:     "Vue",
		spec.KindAngular: "Angular",
		spec.KindSvelte:  "SvelteKit",
		spec.KindStatic:  "Static site",
		spec.KindProxy:   "Reverse proxy to a running service",
	}
	var opts []huh.Option[string]
	for _, k := range spec.Kinds() {
		opts = append(opts, huh.NewOption(labels[k], string(k)))
	}
	return opts
}

func modeOptions(kind spec.AppKind) []huh.Option[string] {
	var opts []huh.Option[string]
	for _, m := range spec.FrontendModes(kind) {
		opts = append(opts, huh.NewOption(string(m), string(m)))
	}
	return opts
}

func suggestPort(ports *port.Allocator, appID string, kind spec.AppKind) int {
	preferred := resolve.DefaultPort(kind)
	if ports == nil {
		return preferred
	}
	p, err := ports.Suggest(appID, preferred)
	if err != nil {
		return preferred
	}
	return p
}

func normalizeDomain(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
}

func validateDomain(s string) error {
	d := normalizeDomain(s)
	if d == "" {
		return fmt.Errorf("domain cannot be empty")
	}
	if !strings.Contains(d, ".") {
		return fmt.Errorf("%q is not a fully qualified domain", d)
	}
	for _, label := range strings.Split(d, ".") {
		if err := validateLabel(label); err != nil {
			return err
		}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" || len(label) > 63 {
		return fmt.Errorf("label %q must be 1-63 characters", label)
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return fmt.Errorf("label %q cannot start or end with '-'", label)
	}
	for _, r := range label {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return fmt.Errorf("label %q contains %q", label, r)
		}
	}
	return nil
}

func validateSubdomains(s string) error {
	for _, sub := range splitList(s) {
		for _, label := range strings.Split(sub, ".") {
			if err := validateLabel(label); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateAbs(s string) error {
	if !filepath.IsAbs(strings.TrimSpace(s)) {
		return fmt.Errorf("must be an absolute path")
	}
	return nil
}

func validatePort(s string) error {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("must be a port between 1 and 65535")
	}
	return nil
}

var validate = validator.New()

func validateEmail(s string) error {
	if err := validate.Var(strings.TrimSpace(s), "required,email"); err != nil {
		return fmt.Errorf("must be an email address")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
