package render

import (
	"strings"

	"github.com/reviewapps-dev/siteup/internal/spec"
)

type bodyData struct {
	Port             int
	DocRoot          string
	FPMSocket        string
	CacheRules       []CacheRule
	ApacheCacheRules []CacheRule
}

type vhostData struct {
	Domain        string
	ServerNames   string
	ServerAliases string
	LogDir        string
	ACMEWebroot   string
	CertPath      string
	KeyPath       string
	Body          string
}

// RoutingBody renders the part of a virtual host that decides how requests
// are served. The HTTP and SSL vhosts embed the same body verbatim.
func (r *Renderer) RoutingBody(s *spec.DeploymentSpec) (string, error) {
	v, err := spec.VariantFor(s.AppKind, s.FrontendMode, s.NeedsProxy)
	if err != nil {
		return "", renderErr(KindHTTPVhost, "%v", err)
	}
	if v != s.Variant {
		return "", renderErr(KindHTTPVhost, "spec variant %s does not match %s", s.Variant, v)
	}

	data := bodyData{FPMSocket: r.layout.FPMSocket}
	switch v {
	case spec.VariantProxy:
		if s.Port == 0 {
			return "", renderErr(KindHTTPVhost, "proxy body without a port")
		}
		data.Port = s.Port
	case spec.VariantPHP, spec.VariantStatic:
		if s.DocRoot == "" {
			return "", renderErr(KindHTTPVhost, "%s body without a doc root", v)
		}
		data.DocRoot = s.DocRoot
		data.CacheRules = CacheRules()
		data.ApacheCacheRules = apacheCacheRules()
	}

	prefix := "nginx"
	if s.WebServer == spec.Apache {
		prefix = "apache"
	}
	body, err := execute(prefix+"-"+string(v)+"-body", data)
	if err != nil {
		return "", renderErr(KindHTTPVhost, "%v", err)
	}
	return strings.TrimRight(body, "\n"), nil
}

func (r *Renderer) vhost(s *spec.DeploymentSpec, kind Kind) (string, error) {
	web := r.layout.web(s.WebServer)
	data := vhostData{
		Domain:        s.Domain,
		ServerNames:   strings.Join(s.Hostnames(), " "),
		ServerAliases: strings.Join(s.Aliases, " "),
		LogDir:        web.LogDir,
		ACMEWebroot:   r.layout.ACMEWebroot,
	}

	var name string
	switch kind {
	case KindHTTPVhost:
		name = "http"
	case KindSSLVhost:
		if !s.TLS.Enabled() {
			return "", renderErr(kind, "tls is disabled")
		}
		name = "ssl"
		data.CertPath = s.TLS.CertPath
		data.KeyPath = s.TLS.KeyPath
	case KindRedirectVhost:
		if !s.TLS.Enabled() {
			return "", renderErr(kind, "tls is disabled")
		}
		name = "redirect"
	}

	if kind != KindRedirectVhost {
		body, err := r.RoutingBody(s)
		if err != nil {
			return "", err
		}
		data.Body = body
	}

	prefix := "nginx"
	if s.WebServer == spec.Apache {
		prefix = "apache"
	}
	out, err := execute(prefix+"-"+name, data)
	if err != nil {
		return "", renderErr(kind, "%v", err)
	}
	return out, nil
}
