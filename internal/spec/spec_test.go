package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantForCoversEveryLegalMode(t *testing.T) {
	for _, kind := range Kinds() {
		for _, mode := range FrontendModes(kind) {
			v, err := VariantFor(kind, mode, NeedsProxy(kind, mode))
			require.NoError(t, err, "kind=%s mode=%s", kind, mode)
			if NeedsProxy(kind, mode) {
				assert.Equal(t, VariantProxy, v)
			} else {
				assert.NotEqual(t, VariantProxy, v)
			}
		}
	}
}

func TestVariantForRejectsUnknownCombination(t *testing.T) {
	_, err := VariantFor(KindReact, ModeSSR, true)
	assert.Error(t, err)

	_, err = VariantFor(KindPHP, ModeNone, true)
	assert.Error(t, err)
}

func TestServiceIDIsDotFree(t *testing.T) {
	assert.Equal(t, "app-example-com", ServiceID("App.Example.com"))
	assert.Equal(t, "api_v2", ServiceID("api_v2"))
	assert.Equal(t, "my-site", ServiceID(".my site."))
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand(`node server.js --title "my app"`)
	require.NoError(t, err)
	assert.Equal(t, "node", c.Tool)
	assert.Equal(t, []string{"server.js", "--title", "my app"}, c.Args)
	assert.Equal(t, `node server.js --title 'my app'`, c.String())

	_, err = ParseCommand(`node "unterminated`)
	assert.Error(t, err)
}

func validProxySpec() *DeploymentSpec {
	return &DeploymentSpec{
		WebServer:      Nginx,
		AppKind:        KindNode,
		FrontendMode:   ModeNone,
		PackageManager: NPM,
		Domain:         "example.com",
		Aliases:        []string{"www.example.com"},
		AppRoot:        "/var/www/example.com",
		AppName:        "example.com",
		NeedsProxy:     true,
		Port:           3000,
		Variant:        VariantProxy,
		TLS:            TLS{Mode: SSLNone},
		ProcessManager: ProcPM2,
		PM2ExecMode:    "cluster",
		StartCommand:   NewCommand("node", "index.js"),
		Database:       DBNone,
		ProbePath:      "/",
	}
}

func TestCheck(t *testing.T) {
	require.NoError(t, validProxySpec().Check())

	tests := []struct {
		name  string
		mut   func(s *DeploymentSpec)
		field string
	}{
		{"proxied without port", func(s *DeploymentSpec) { s.Port = 0 }, "port"},
		{"proxied with doc root", func(s *DeploymentSpec) { s.DocRoot = "/srv" }, "doc_root"},
		{"missing process manager", func(s *DeploymentSpec) { s.ProcessManager = ProcNone; s.PM2ExecMode = "" }, "process_manager"},
		{"alias repeats domain", func(s *DeploymentSpec) { s.Aliases = []string{"example.com"} }, "subdomains"},
		{"uppercase alias", func(s *DeploymentSpec) { s.Aliases = []string{"WWW.example.com"} }, "domain"},
		{"letsencrypt without email", func(s *DeploymentSpec) {
			s.TLS = TLS{Mode: SSLLetsEncrypt, CertPath: "/c", KeyPath: "/k"}
		}, "ssl.email"},
		{"wrong variant", func(s *DeploymentSpec) { s.Variant = VariantStatic }, "variant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validProxySpec()
			tt.mut(s)
			err := s.Check()
			var ie *InvariantError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.field, ie.Field)
		})
	}
}

func TestFingerprintTracksChanges(t *testing.T) {
	a, err := validProxySpec().Fingerprint()
	require.NoError(t, err)
	b, err := validProxySpec().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	changed := validProxySpec()
	changed.Port = 8080
	c, err := changed.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
