package render

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/reviewapps-dev/siteup/internal/env"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

type pm2Data struct {
	Domain      string
	Name        string
	Cwd         string
	Script      string
	Args        []string
	Interpreter string
	ExecMode    string
	Instances   any
	MaxMemory   string
	OutFile     string
	ErrorFile   string
	Env         []env.Var
}

func (r *Renderer) pm2(s *spec.DeploymentSpec) (string, error) {
	if !s.NeedsProxy || s.StartCommand.IsZero() {
		return "", renderErr(KindSupervisor, "pm2 needs a proxied app with a start command")
	}

	id := s.ServiceID()
	data := pm2Data{
		Domain:    s.Domain,
		Name:      id,
		Cwd:       s.AppRoot,
		ExecMode:  s.PM2ExecMode,
		MaxMemory: r.layout.PM2MaxMemory,
		OutFile:   filepath.Join(r.layout.AppLogDir, id+".out.log"),
		ErrorFile: filepath.Join(r.layout.AppLogDir, id+".err.log"),
		Env:       env.Build(s),
	}

	switch s.PM2ExecMode {
	case "cluster":
		if s.StartCommand.Tool != "node" || len(s.StartCommand.Args) == 0 {
			return "", renderErr(KindSupervisor, "cluster mode needs a node script, got %q", s.StartCommand)
		}
		data.Instances = "max"
	case "fork":
		data.Instances = 1
	default:
		return "", renderErr(KindSupervisor, "unknown pm2 exec mode %q", s.PM2ExecMode)
	}

	if s.StartCommand.Tool == "node" && len(s.StartCommand.Args) > 0 {
		data.Script = s.StartCommand.Args[0]
		data.Args = s.StartCommand.Args[1:]
	} else {
		data.Script = s.StartCommand.Tool
		data.Args = s.StartCommand.Args
		data.Interpreter = "none"
	}

	out, err := execute("pm2", data)
	if err != nil {
		return "", renderErr(KindSupervisor, "%v", err)
	}
	return out, nil
}

func (r *Renderer) systemd(s *spec.DeploymentSpec) (string, error) {
	if !s.NeedsProxy || s.StartCommand.IsZero() {
		return "", renderErr(KindSupervisor, "systemd needs a proxied app with a start command")
	}

	id := s.ServiceID()
	start := s.StartCommand
	if !filepath.IsAbs(start.Tool) {
		// ExecStart needs an absolute program path.
		start = spec.NewCommand("/usr/bin/env", start.Argv()...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Managed by siteup for %s. Local edits are overwritten on the next apply.\n", s.Domain)
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=%s (%s)\n", s.Domain, s.AppKind)
	b.WriteString("After=network.target\n")
	b.WriteString("StartLimitIntervalSec=60\n")
	b.WriteString("StartLimitBurst=5\n")
	b.WriteString("\n[Service]\n")
	b.WriteString("Type=simple\n")
	if r.layout.ServiceUser != "" {
		fmt.Fprintf(&b, "User=%s\n", r.layout.ServiceUser)
	}
	if r.layout.ServiceGroup != "" {
		fmt.Fprintf(&b, "Group=%s\n", r.layout.ServiceGroup)
	}
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", s.AppRoot)
	fmt.Fprintf(&b, "EnvironmentFile=-%s\n", filepath.Join(s.AppRoot, ".env"))
	for _, v := range env.Build(s) {
		fmt.Fprintf(&b, "Environment=%s\n", shellquote.Join(v.Key+"="+v.Value))
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", start)
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=5\n")
	b.WriteString("StandardOutput=journal\n")
	b.WriteString("StandardError=journal\n")
	fmt.Fprintf(&b, "SyslogIdentifier=%s\n", id)
	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String(), nil
}
