package render

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/reviewapps-dev/siteup/internal/spec"
)

func sh(argv ...string) string { return shellquote.Join(argv...) }

func scriptHeader(s *spec.DeploymentSpec) string {
	return fmt.Sprintf("#!/bin/sh\n# Managed by siteup for %s. Local edits are overwritten on the next apply.\nset -eu\n", s.Domain)
}

func (r *Renderer) firewall(s *spec.DeploymentSpec) (string, error) {
	if !s.FirewallEnabled {
		return "", renderErr(KindFirewall, "firewall is disabled")
	}
	profile := "Nginx Full"
	if s.WebServer == spec.Apache {
		profile = "Apache Full"
	}
	ssh := r.layout.SSHPort
	if ssh == 0 {
		ssh = 22
	}

	var b strings.Builder
	b.WriteString(scriptHeader(s))
	b.WriteString(sh("ufw", "default", "deny", "incoming") + "\n")
	b.WriteString(sh("ufw", "default", "allow", "outgoing") + "\n")
	b.WriteString(sh("ufw", "allow", strconv.Itoa(ssh)+"/tcp") + "\n")
	b.WriteString(sh("ufw", "allow", profile) + "\n")
	b.WriteString(sh("ufw", "--force", "enable") + "\n")
	return b.String(), nil
}

// fragments are the process-control lines shared by the helper scripts.
type fragments struct {
	restart []string
	logs    []string
	status  []string
}

// processFragments selects helper script fragments for every legal
// (appKind, processManager) pair. Any other pair is a RenderError.
func (r *Renderer) processFragments(s *spec.DeploymentSpec, kind Kind) (fragments, error) {
	id := s.ServiceID()
	web := r.layout.web(s.WebServer)
	webReload := []string{web.TestCommand.String(), sh("systemctl", "reload", web.Service)}
	webLogs := []string{
		"exec tail -n \"${1:-100}\" -f " + sh(
			filepath.Join(web.LogDir, s.Domain+".access.log"),
			filepath.Join(web.LogDir, s.Domain+".error.log"),
		),
	}
	webStatus := []string{sh("systemctl", "status", web.Service, "--no-pager")}

	switch s.ProcessManager {
	case spec.ProcPM2:
		switch s.AppKind {
		case spec.KindNode, spec.KindPython, spec.KindNext, spec.KindNuxt, spec.KindSvelte:
			if !s.NeedsProxy {
				break
			}
			return fragments{
				restart: []string{sh("pm2", "startOrReload", r.PM2ConfigPath(s), "--update-env"), sh("pm2", "save")},
				logs:    []string{"exec pm2 logs " + sh(id) + " --lines \"${1:-100}\""},
				status:  []string{sh("pm2", "describe", id)},
			}, nil
		}
	case spec.ProcSystemd:
		switch s.AppKind {
		case spec.KindNode, spec.KindPython, spec.KindNext, spec.KindNuxt, spec.KindSvelte:
			if !s.NeedsProxy {
				break
			}
			unit := id + ".service"
			return fragments{
				restart: []string{sh("systemctl", "restart", unit)},
				logs:    []string{"exec journalctl -u " + sh(unit) + " -n \"${1:-100}\" -f"},
				status:  []string{sh("systemctl", "status", unit, "--no-pager")},
			}, nil
		}
	case spec.ProcNone:
		switch s.AppKind {
		case spec.KindPHP, spec.KindStatic, spec.KindProxy:
			return fragments{restart: webReload, logs: webLogs, status: webStatus}, nil
		case spec.KindNext, spec.KindNuxt, spec.KindReact, spec.KindVue, spec.KindAngular, spec.KindSvelte:
			if s.NeedsProxy {
				break
			}
			return fragments{restart: webReload, logs: webLogs, status: webStatus}, nil
		}
	}
	return fragments{}, renderErr(kind, "no helper script rule for kind %s with process manager %q", s.AppKind, s.ProcessManager)
}

func (r *Renderer) script(s *spec.DeploymentSpec, kind Kind) (string, error) {
	frag, err := r.processFragments(s, kind)
	if err != nil {
		return "", err
	}

	var lines []string
	switch kind {
	case KindUpdateScript:
		lines = append(lines, sh("cd", s.AppRoot))
		if s.Git != nil {
			lines = append(lines,
				sh("git", "fetch", "origin", s.Git.Branch),
				sh("git", "reset", "--hard", "origin/"+s.Git.Branch),
			)
		}
		for _, c := range s.Install {
			lines = append(lines, c.String())
		}
		if !s.BuildCommand.IsZero() {
			lines = append(lines, s.BuildCommand.String())
		}
		lines = append(lines, frag.restart...)
		lines = append(lines, sh("echo", "updated "+s.Domain))
	case KindRestartScript:
		lines = frag.restart
	case KindLogsScript:
		lines = frag.logs
	case KindStatusScript:
		lines = append(lines, frag.status...)
		scheme := "http"
		if s.TLS.Enabled() {
			scheme = "https"
		}
		lines = append(lines, fmt.Sprintf(
			"curl -ksS -o /dev/null -w '%%{http_code}\\n' --resolve %s %s",
			sh(s.Domain+":"+defaultPort(scheme)+":127.0.0.1"),
			sh(scheme+"://"+s.Domain+s.ProbePath),
		))
	}

	return scriptHeader(s) + strings.Join(lines, "\n") + "\n", nil
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

func (r *Renderer) renewCron(s *spec.DeploymentSpec) (string, error) {
	if s.TLS.Mode != spec.SSLLetsEncrypt {
		return "", renderErr(KindRenewCron, "renewal only applies to letsencrypt certificates")
	}
	schedule := r.layout.RenewSchedule
	if schedule == "" {
		return "", renderErr(KindRenewCron, "no renewal schedule configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Managed by siteup for %s. Local edits are overwritten on the next apply.\n", s.Domain)
	b.WriteString("SHELL=/bin/sh\n")
	b.WriteString("PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin\n")
	fmt.Fprintf(&b, "%s root %s >> %s 2>&1\n",
		schedule, sh(r.layout.Binary, "renew", "-domain", s.Domain), sh(r.layout.LogFile))
	return b.String(), nil
}
