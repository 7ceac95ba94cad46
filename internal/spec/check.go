package spec

import (
	"fmt"
	"strings"
)

// InvariantError names the field that breaks a cross-field rule.
type InvariantError struct {
	Field  string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func violation(field, format string, args ...any) error {
	return &InvariantError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Check verifies the cross-field invariants of a resolved spec. File
// readability for existing certificates is the resolver's concern.
func (s *DeploymentSpec) Check() error {
	if s.NeedsProxy != NeedsProxy(s.AppKind, s.FrontendMode) {
		return violation("needs_proxy", "%t does not match kind %s in mode %s", s.NeedsProxy, s.AppKind, s.FrontendMode)
	}
	if s.NeedsProxy != (s.Port != 0) {
		return violation("port", "port must be set exactly when the app is proxied")
	}
	if s.Port < 0 || s.Port > 65535 {
		return violation("port", "%d is out of range", s.Port)
	}
	if (s.DocRoot != "") == s.NeedsProxy {
		return violation("doc_root", "doc root must be set exactly when the app is not proxied")
	}

	v, err := VariantFor(s.AppKind, s.FrontendMode, s.NeedsProxy)
	if err != nil {
		return violation("frontend_mode", "%v", err)
	}
	if v != s.Variant {
		return violation("variant", "%s does not match %s", s.Variant, v)
	}

	supervised := s.ProcessManager != "" && s.ProcessManager != ProcNone
	if supervised != (s.NeedsProxy && !s.StartCommand.IsZero()) {
		return violation("process_manager", "a process manager is required exactly when a proxied app has a start command")
	}
	if (s.ProcessManager == ProcPM2) != (s.PM2ExecMode != "") {
		return violation("process_manager", "pm2 exec mode set without pm2")
	}

	seen := make(map[string]bool)
	for _, h := range s.Hostnames() {
		if h == "" {
			return violation("domain", "empty hostname")
		}
		if h != strings.ToLower(h) {
			return violation("domain", "hostname %q is not lowercase", h)
		}
		if seen[h] {
			return violation("subdomains", "hostname %q appears twice", h)
		}
		seen[h] = true
	}

	switch s.TLS.Mode {
	case SSLNone, "":
	case SSLLetsEncrypt:
		if s.TLS.Email == "" {
			return violation("ssl.email", "required for letsencrypt")
		}
		fallthrough
	case SSLSelfSigned, SSLExisting:
		if s.TLS.CertPath == "" || s.TLS.KeyPath == "" {
			return violation("ssl.cert_path", "certificate and key paths are required")
		}
	default:
		return violation("ssl.mode", "unknown mode %q", s.TLS.Mode)
	}

	if s.AppRoot == "" || !strings.HasPrefix(s.AppRoot, "/") {
		return violation("app_root", "must be an absolute path")
	}
	return nil
}
