package wizard

import (
	"testing"

	"github.com/charmbracelet/huh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/siteup/internal/answers"
	"github.com/reviewapps-dev/siteup/internal/port"
	"github.com/reviewapps-dev/siteup/internal/resolve"
)

func TestRunRequiresTerminal(t *testing.T) {
	old := isTerminal
	isTerminal = func() bool { return false }
	defer func() { isTerminal = old }()

	_, err := Run(Options{})
	assert.ErrorIs(t, err, ErrNotTerminal)
}

func TestRunStopsOnAbort(t *testing.T) {
	oldTerm, oldForm := isTerminal, runForm
	isTerminal = func() bool { return true }
	calls := 0
	runForm = func(*huh.Form) error {
		calls++
		return huh.ErrUserAborted
	}
	defer func() { isTerminal, runForm = oldTerm, oldForm }()

	_, err := Run(Options{})
	assert.ErrorIs(t, err, huh.ErrUserAborted)
	assert.Equal(t, 1, calls)
}

func TestAnswersResolve(t *testing.T) {
	st := &state{
		webServer:      "nginx",
		appKind:        "react",
		frontendMode:   "spa",
		packageManager: "pnpm",
		domain:         "App.Example.com.",
		appRoot:        "/var/www/app.example.com",
		gitRepo:        "https://github.com/acme/app.git",
		gitBranch:      "main",
		sslMode:        "none",
		database:       "none",
		firewall:       true,
	}
	raw := st.answers()

	assert.Equal(t, "app.example.com", raw.Domain)
	assert.Nil(t, raw.IncludeWWW, "subdomains never carry a www choice")
	assert.Equal(t, answers.Git{Repo: "https://github.com/acme/app.git", Branch: "main"}, raw.Git)
	assert.Zero(t, raw.Port)

	s, err := resolve.New(resolve.Options{}).Resolve(raw)
	require.NoError(t, err)
	assert.False(t, s.NeedsProxy)
	assert.Equal(t, "/var/www/app.example.com/dist", s.DocRoot)
}

func TestAnswersRootDomain(t *testing.T) {
	st := &state{
		webServer:      "apache",
		appKind:        "node",
		frontendMode:   "none",
		packageManager: "npm",
		domain:         "example.com",
		includeWWW:     false,
		subdomains:     " API, admin ,",
		appRoot:        "/srv/example",
		port:           "3001",
		entry:          "server.js",
		processManager: "pm2",
		sslMode:        "letsencrypt",
		sslEmail:       " ops@example.com ",
		database:       "postgresql",
	}
	raw := st.answers()

	require.NotNil(t, raw.IncludeWWW)
	assert.False(t, *raw.IncludeWWW)
	assert.Equal(t, []string{"api", "admin"}, raw.Subdomains)
	assert.Equal(t, 3001, raw.Port)
	assert.Empty(t, raw.FrontendMode)
	assert.Equal(t, "ops@example.com", raw.SSL.Email)
	require.NotNil(t, raw.Firewall)
	assert.False(t, *raw.Firewall)

	s, err := resolve.New(resolve.Options{}).Resolve(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "api.example.com", "admin.example.com"}, s.Hostnames())
	assert.Equal(t, 3001, s.Port)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateDomain("app.example.com"))
	assert.Error(t, validateDomain("localhost"))
	assert.Error(t, validateDomain("bad_label.example.com"))
	assert.Error(t, validateDomain("-x.example.com"))
	assert.Error(t, validateDomain(""))

	assert.NoError(t, validateSubdomains("api, admin"))
	assert.Error(t, validateSubdomains("api, bad label"))

	assert.NoError(t, validateAbs("/var/www"))
	assert.Error(t, validateAbs("www"))

	assert.NoError(t, validatePort("8080"))
	assert.Error(t, validatePort("0"))
	assert.Error(t, validatePort("http"))

	assert.NoError(t, validateEmail("ops@example.com"))
	assert.Error(t, validateEmail("ops"))
}

func TestSuggestPort(t *testing.T) {
	assert.Equal(t, 8000, suggestPort(nil, "api", "python"))

	ports := port.NewAllocator()
	ports.Reserve("other", 3000)
	p := suggestPort(ports, "web", "node")
	assert.Greater(t, p, 3000)
}

func TestKindOptionsCoverEveryKind(t *testing.T) {
	assert.Len(t, kindOptions(), 11)
	assert.Len(t, modeOptions("nuxtjs"), 3)
}
