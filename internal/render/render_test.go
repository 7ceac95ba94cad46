package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/siteup/internal/answers"
	"github.com/reviewapps-dev/siteup/internal/resolve"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

func testLayout() Layout {
	return Layout{
		Nginx: WebLayout{
			SitesDir:    "/etc/nginx/sites-available",
			LogDir:      "/var/log/nginx",
			Service:     "nginx",
			TestCommand: spec.NewCommand("nginx", "-t"),
		},
		Apache: WebLayout{
			SitesDir:    "/etc/apache2/sites-available",
			LogDir:      "/var/log/apache2",
			Service:     "apache2",
			TestCommand: spec.NewCommand("apache2ctl", "configtest"),
		},
		SystemdUnitDir: "/etc/systemd/system",
		PM2ConfigDir:   "/etc/siteup/pm2",
		PM2MaxMemory:   "512M",
		FirewallDir:    "/etc/siteup/firewall",
		ScriptsDir:     "/opt/siteup",
		CronDir:        "/etc/cron.d",
		AppLogDir:      "/var/log/siteup/apps",
		ACMEWebroot:    "/var/lib/siteup/acme",
		FPMSocket:      "/run/php/php-fpm.sock",
		SSHPort:        22,
		ServiceUser:    "www-data",
		ServiceGroup:   "www-data",
		RenewSchedule:  "17 3 * * *",
		Binary:         "/usr/local/bin/siteup",
		LogFile:        "/var/log/siteup/siteup.log",
	}
}

func mustResolve(t *testing.T, raw answers.RawAnswers) *spec.DeploymentSpec {
	t.Helper()
	s, err := resolve.New(resolve.Options{CertDir: "/etc/siteup/certs"}).Resolve(&raw)
	require.NoError(t, err)
	return s
}

func mustRender(t *testing.T, s *spec.DeploymentSpec, kind Kind) string {
	t.Helper()
	a, err := New(testLayout()).Render(s, kind)
	require.NoError(t, err)
	return string(a.Content)
}

func TestRenderIsDeterministic(t *testing.T) {
	specs := []answers.RawAnswers{
		{WebServer: "nginx", AppKind: "react", PackageManager: "pnpm", Domain: "app.example.com"},
		{WebServer: "apache", AppKind: "php", Domain: "example.com", Subdomains: []string{"shop"}, SSL: answers.SSL{Mode: "letsencrypt", Email: "ops@example.com"}},
		{WebServer: "nginx", AppKind: "nextjs", Domain: "example.com", SSL: answers.SSL{Mode: "selfsigned"}},
		{WebServer: "nginx", AppKind: "python", Domain: "api.example.com", Git: answers.Git{Repo: "https://github.com/example/api.git"}},
	}
	r := New(testLayout())
	for _, raw := range specs {
		s := mustResolve(t, raw)
		first, err := r.RenderAll(s)
		require.NoError(t, err)
		second, err := r.RenderAll(mustResolve(t, raw))
		require.NoError(t, err)
		assert.Equal(t, first, second, "kind=%s", raw.AppKind)
	}
}

// Changing only the port changes the vhost upstream and the supervisor's
// PORT identically, and nothing else.
func TestPortChangeIsConsistent(t *testing.T) {
	base := answers.RawAnswers{WebServer: "nginx", AppKind: "node", Domain: "api.example.com", Port: 3000}
	moved := base
	moved.Port = 8080

	r := New(testLayout())
	before, err := r.RenderAll(mustResolve(t, base))
	require.NoError(t, err)
	after, err := r.RenderAll(mustResolve(t, moved))
	require.NoError(t, err)
	require.Len(t, after, len(before))

	changed := map[Kind]int{}
	for i := range before {
		require.Equal(t, before[i].Kind, after[i].Kind)
		require.Equal(t, before[i].Path, after[i].Path)

		a := strings.Split(string(before[i].Content), "\n")
		b := strings.Split(string(after[i].Content), "\n")
		require.Len(t, b, len(a), "kind=%s", before[i].Kind)
		for j := range a {
			if a[j] == b[j] {
				continue
			}
			changed[before[i].Kind]++
			assert.Contains(t, a[j], "3000")
			assert.Equal(t, strings.ReplaceAll(a[j], "3000", "8080"), b[j])
		}
	}
	assert.Equal(t, map[Kind]int{KindHTTPVhost: 1, KindSupervisor: 1}, changed)
}

func TestSPAFallbackVersusPHPHandler(t *testing.T) {
	react := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "react", Domain: "app.example.com"}), KindHTTPVhost)
	assert.Contains(t, react, "try_files $uri $uri/ /index.html;")
	assert.Contains(t, react, "root /var/www/app.example.com/dist;")
	assert.NotContains(t, react, "fastcgi_pass")
	assert.NotContains(t, react, "proxy_pass")

	php := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "php", Domain: "app.example.com"}), KindHTTPVhost)
	assert.Contains(t, php, "fastcgi_pass unix:/run/php/php-fpm.sock;")
	assert.Contains(t, php, "root /var/www/app.example.com/public;")
	assert.NotContains(t, php, "/index.html")
	assert.NotContains(t, php, "proxy_pass")

	apacheReact := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "apache", AppKind: "react", Domain: "app.example.com"}), KindHTTPVhost)
	assert.Contains(t, apacheReact, "FallbackResource /index.html")
	assert.NotContains(t, apacheReact, "SetHandler")

	apachePHP := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "apache", AppKind: "php", Domain: "app.example.com"}), KindHTTPVhost)
	assert.Contains(t, apachePHP, `SetHandler "proxy:unix:/run/php/php-fpm.sock|fcgi://localhost"`)
	assert.NotContains(t, apachePHP, "FallbackResource")
}

func TestCachePolicyBoundary(t *testing.T) {
	assert.Equal(t, CacheImmutable, CachePolicyFor("main.1a2b3c4d.js"))
	assert.Equal(t, CacheShort, CachePolicyFor("main.js"))
	assert.Equal(t, CacheNone, CachePolicyFor("index.html"))

	assert.Equal(t, CacheImmutable, CachePolicyFor("/static/js/main.1a2b3c4d.chunk.js"))
	assert.Equal(t, CacheImmutable, CachePolicyFor("/static/css/main.0f9e8d7c.css"))
	assert.Equal(t, CacheImmutable, CachePolicyFor("/assets/index-BdP3x9Qa.js"))
	assert.Equal(t, CacheShort, CachePolicyFor("/vendor/jquery.min.js"))
	assert.Equal(t, CacheImmutable, CachePolicyFor("/assets/vendor-0abcdefg.css"))
	assert.Equal(t, CacheShort, CachePolicyFor("/assets/ui-controls.js"))
	assert.Equal(t, CacheShort, CachePolicyFor("/assets/app-settings.css"))
	assert.Equal(t, "", CachePolicyFor("/robots.txt"))
}

func TestStaticVhostEmitsCacheRulesInOrder(t *testing.T) {
	out := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "vue", Domain: "app.example.com"}), KindHTTPVhost)
	last := -1
	for _, rule := range CacheRules() {
		i := strings.Index(out, `location ~* "`+rule.Pattern+`"`)
		require.GreaterOrEqual(t, i, 0, rule.Name)
		assert.Greater(t, i, last, "%s out of order", rule.Name)
		last = i
	}
	assert.Greater(t, strings.Index(out, "location / {"), last)

	apache := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "apache", AppKind: "vue", Domain: "app.example.com"}), KindHTTPVhost)
	hashed := strings.Index(apache, `<LocationMatch "(?i)`+CacheRules()[0].Pattern+`">`)
	document := strings.Index(apache, `<LocationMatch "(?i)`+CacheRules()[3].Pattern+`">`)
	require.GreaterOrEqual(t, hashed, 0)
	require.GreaterOrEqual(t, document, 0)
	assert.Greater(t, hashed, document, "apache applies the last matching section")
}

func TestSSLVhostReusesRoutingBody(t *testing.T) {
	for _, ws := range []string{"nginx", "apache"} {
		s := mustResolve(t, answers.RawAnswers{
			WebServer: ws, AppKind: "nextjs", Domain: "example.com",
			SSL: answers.SSL{Mode: "letsencrypt", Email: "ops@example.com"},
		})
		r := New(testLayout())
		body, err := r.RoutingBody(s)
		require.NoError(t, err)

		http := mustRender(t, s, KindHTTPVhost)
		ssl := mustRender(t, s, KindSSLVhost)
		redirect := mustRender(t, s, KindRedirectVhost)

		assert.Contains(t, http, body)
		assert.Contains(t, ssl, body)
		assert.Contains(t, ssl, "/etc/siteup/certs/example.com/fullchain.pem")
		assert.Contains(t, ssl, "Strict-Transport-Security")
		assert.NotContains(t, redirect, body)
		assert.Contains(t, redirect, "/.well-known/acme-challenge/")
	}
}

// nginxLocations returns each top-level location block of a rendered server,
// keyed by its opening line.
func nginxLocations(conf string) map[string]string {
	blocks := map[string]string{}
	var open string
	var b strings.Builder
	for _, line := range strings.Split(conf, "\n") {
		switch {
		case open == "" && strings.HasPrefix(line, "    location "):
			open = strings.TrimSpace(line)
			b.Reset()
		case open != "" && line == "    }":
			blocks[open] = b.String()
			open = ""
		case open != "":
			b.WriteString(line + "\n")
		}
	}
	return blocks
}

func TestNginxSecurityHeadersReachEveryLocation(t *testing.T) {
	s := mustResolve(t, answers.RawAnswers{
		WebServer: "nginx", AppKind: "react", Domain: "app.example.com",
		SSL: answers.SSL{Mode: "selfsigned"},
	})
	ssl := mustRender(t, s, KindSSLVhost)
	assert.Contains(t, ssl, `set $siteup_hsts "max-age=63072000; includeSubDomains";`)

	locations := nginxLocations(ssl)
	require.NotEmpty(t, locations)
	withHeaders := 0
	for open, body := range locations {
		if !strings.Contains(body, "add_header") {
			continue
		}
		withHeaders++
		assert.Contains(t, body, "add_header Strict-Transport-Security $siteup_hsts always;", open)
		assert.Contains(t, body, `add_header X-Frame-Options "SAMEORIGIN" always;`, open)
		assert.Contains(t, body, `add_header Referrer-Policy "strict-origin-when-cross-origin" always;`, open)
	}
	assert.Equal(t, len(CacheRules()), withHeaders)

	http := mustRender(t, s, KindHTTPVhost)
	assert.Contains(t, http, `set $siteup_hsts "";`)
	assert.NotContains(t, http, "max-age=63072000")
}

func TestNginxVhostNames(t *testing.T) {
	s := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "static", Domain: "example.com", Subdomains: []string{"blog"}})
	out := mustRender(t, s, KindHTTPVhost)
	assert.Contains(t, out, "server_name example.com www.example.com blog.example.com;")
	assert.Contains(t, out, "location ^~ /.well-known/acme-challenge/ {")

	a, err := New(testLayout()).Render(s, KindHTTPVhost)
	require.NoError(t, err)
	assert.Equal(t, "/etc/nginx/sites-available/example.com.conf", a.Path)
}

func TestRedirectVhost(t *testing.T) {
	s := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "static", Domain: "example.com", SSL: answers.SSL{Mode: "selfsigned"}})
	out := mustRender(t, s, KindRedirectVhost)
	assert.Contains(t, out, "return 301 https://$host$request_uri;")

	r := New(testLayout())
	http, err := r.Path(s, KindHTTPVhost)
	require.NoError(t, err)
	redirect, err := r.Path(s, KindRedirectVhost)
	require.NoError(t, err)
	assert.Equal(t, http, redirect)
}

func TestPM2Config(t *testing.T) {
	node := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "node", Domain: "api.example.com"}), KindSupervisor)
	assert.Contains(t, node, `name: "api-example-com",`)
	assert.Contains(t, node, `script: "index.js",`)
	assert.Contains(t, node, `exec_mode: "cluster",`)
	assert.Contains(t, node, `instances: "max",`)
	assert.Contains(t, node, `autorestart: true,`)
	assert.Contains(t, node, `max_memory_restart: "512M",`)
	assert.Contains(t, node, `out_file: "/var/log/siteup/apps/api-example-com.out.log",`)
	assert.Contains(t, node, `error_file: "/var/log/siteup/apps/api-example-com.err.log",`)
	assert.Contains(t, node, `"PORT": "3000",`)
	assert.NotContains(t, node, "interpreter")

	next := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "nextjs", FrontendMode: "standalone", Domain: "web.example.com"}), KindSupervisor)
	assert.Contains(t, next, `exec_mode: "fork",`)
	assert.Contains(t, next, `instances: 1,`)
	assert.Contains(t, next, `script: ".next/standalone/server.js",`)

	custom := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "node", Domain: "api.example.com", StartCommand: "npm run serve"}), KindSupervisor)
	assert.Contains(t, custom, `script: "npm",`)
	assert.Contains(t, custom, `args: ["run","serve"],`)
	assert.Contains(t, custom, `interpreter: "none",`)
}

func TestSystemdUnit(t *testing.T) {
	s := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "python", Domain: "api.example.com"})
	a, err := New(testLayout()).Render(s, KindSupervisor)
	require.NoError(t, err)

	assert.Equal(t, "/etc/systemd/system/api-example-com.service", a.Path)
	assert.Equal(t, "api-example-com", a.Name)
	out := string(a.Content)
	assert.Contains(t, out, "Restart=on-failure\n")
	assert.Contains(t, out, "RestartSec=5\n")
	assert.Contains(t, out, "StartLimitBurst=5\n")
	assert.Contains(t, out, "WorkingDirectory=/var/www/api.example.com\n")
	assert.Contains(t, out, "Environment=PORT=8000\n")
	assert.Contains(t, out, "User=www-data\n")
	assert.Contains(t, out, "ExecStart=/var/www/api.example.com/.venv/bin/gunicorn --workers 2 --bind 127.0.0.1:8000 app:app\n")

	s = mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "node", Domain: "api.example.com", ProcessManager: "systemd"})
	out = mustRender(t, s, KindSupervisor)
	assert.Contains(t, out, "ExecStart=/usr/bin/env node index.js\n")
}

func TestFirewall(t *testing.T) {
	out := mustRender(t, mustResolve(t, answers.RawAnswers{WebServer: "apache", AppKind: "static", Domain: "example.com"}), KindFirewall)
	assert.Contains(t, out, "ufw default deny incoming\n")
	assert.Contains(t, out, "ufw default allow outgoing\n")
	assert.Contains(t, out, "ufw allow 22/tcp\n")
	assert.Contains(t, out, "ufw allow 'Apache Full'\n")
	assert.True(t, strings.HasPrefix(out, "#!/bin/sh\n"))
}

func TestHelperScripts(t *testing.T) {
	react := mustResolve(t, answers.RawAnswers{
		WebServer: "nginx", AppKind: "react", PackageManager: "pnpm", Domain: "app.example.com",
		Git: answers.Git{Repo: "https://github.com/example/app.git", Branch: "release"},
	})
	update := mustRender(t, react, KindUpdateScript)
	assert.Contains(t, update, "git reset --hard origin/release\n")
	assert.Contains(t, update, "pnpm install --frozen-lockfile\n")
	assert.Contains(t, update, "pnpm run build\n")
	assert.Contains(t, update, "nginx -t\nsystemctl reload nginx\n")

	node := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "node", Domain: "api.example.com"})
	restart := mustRender(t, node, KindRestartScript)
	assert.Contains(t, restart, "pm2 startOrReload /etc/siteup/pm2/api-example-com.config.js --update-env\npm2 save\n")

	py := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "python", Domain: "api.example.com"})
	logs := mustRender(t, py, KindLogsScript)
	assert.Contains(t, logs, "journalctl -u api-example-com.service")

	a, err := New(testLayout()).Render(py, KindStatusScript)
	require.NoError(t, err)
	assert.Equal(t, "/opt/siteup/api-example-com/status.sh", a.Path)
	assert.Contains(t, string(a.Content), "systemctl status api-example-com.service --no-pager")
}

func TestRenewCron(t *testing.T) {
	s := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "static", Domain: "example.com", SSL: answers.SSL{Mode: "letsencrypt", Email: "ops@example.com"}})
	out := mustRender(t, s, KindRenewCron)
	assert.Contains(t, out, "17 3 * * * root /usr/local/bin/siteup renew -domain example.com >> /var/log/siteup/siteup.log 2>&1\n")
}

func TestKinds(t *testing.T) {
	r := New(testLayout())

	s := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "node", Domain: "example.com", SSL: answers.SSL{Mode: "letsencrypt", Email: "ops@example.com"}})
	assert.Equal(t, []Kind{
		KindSupervisor, KindHTTPVhost, KindSSLVhost, KindRedirectVhost, KindFirewall,
		KindUpdateScript, KindRestartScript, KindLogsScript, KindStatusScript, KindRenewCron,
	}, r.Kinds(s))

	static := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "react", Domain: "app.example.com", Firewall: answers.Bool(false)})
	assert.Equal(t, []Kind{KindHTTPVhost, KindUpdateScript, KindRestartScript, KindLogsScript, KindStatusScript}, r.Kinds(static))
}

func TestRenderErrors(t *testing.T) {
	r := New(testLayout())
	plain := mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "static", Domain: "example.com"})

	_, err := r.Render(plain, KindSSLVhost)
	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindSSLVhost, re.Kind)

	_, err = r.Render(plain, KindSupervisor)
	require.ErrorAs(t, err, &re)

	_, err = r.Render(plain, Kind("bogus"))
	require.ErrorAs(t, err, &re)

	mismatched := *plain
	mismatched.Variant = spec.VariantPHP
	_, err = r.Render(&mismatched, KindHTTPVhost)
	require.ErrorAs(t, err, &re)

	unsupervised := *mustResolve(t, answers.RawAnswers{WebServer: "nginx", AppKind: "node", Domain: "api.example.com"})
	unsupervised.ProcessManager = spec.ProcNone
	_, err = r.Render(&unsupervised, KindRestartScript)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindRestartScript, re.Kind)
}
