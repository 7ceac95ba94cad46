package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/reviewapps-dev/siteup/internal/render"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

type Config struct {
	Paths    PathsConfig    `toml:"paths"`
	Nginx    WebConfig      `toml:"nginx"`
	Apache   WebConfig      `toml:"apache"`
	Systemd  SystemdConfig  `toml:"systemd"`
	PM2      PM2Config      `toml:"pm2"`
	PHP      PHPConfig      `toml:"php"`
	ACME     ACMEConfig     `toml:"acme"`
	Firewall FirewallConfig `toml:"firewall"`
	Service  ServiceConfig  `toml:"service"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
	Health   HealthConfig   `toml:"health"`

	// Runtime flags (not from TOML)
	Dev bool `toml:"-"`
}

type PathsConfig struct {
	StateDB     string `toml:"state_db" validate:"required,startswith=/"`
	BackupDir   string `toml:"backup_dir" validate:"required,startswith=/"`
	LogFile     string `toml:"log_file" validate:"required,startswith=/"`
	CertDir     string `toml:"cert_dir" validate:"required,startswith=/"`
	ScriptsDir  string `toml:"scripts_dir" validate:"required,startswith=/"`
	FirewallDir string `toml:"firewall_dir" validate:"required,startswith=/"`
	AppLogDir   string `toml:"app_log_dir" validate:"required,startswith=/"`
	CronDir     string `toml:"cron_dir" validate:"required,startswith=/"`
	SitesRoot   string `toml:"sites_root" validate:"required,startswith=/"`
	// Binary is the siteup executable the renewal cron entry runs.
	Binary string `toml:"binary" validate:"required,startswith=/"`
}

type WebConfig struct {
	SitesAvailable string `toml:"sites_available" validate:"required,startswith=/"`
	// SitesEnabled empty means the server includes SitesAvailable directly.
	SitesEnabled string   `toml:"sites_enabled" validate:"omitempty,startswith=/"`
	Service      string   `toml:"service" validate:"required"`
	LogDir       string   `toml:"log_dir" validate:"required,startswith=/"`
	TestCommand  string   `toml:"test_command" validate:"required"`
	Modules      []string `toml:"modules"`
}

type SystemdConfig struct {
	UnitDir string `toml:"unit_dir" validate:"required,startswith=/"`
}

type PM2Config struct {
	ConfigDir        string `toml:"config_dir" validate:"required,startswith=/"`
	MaxMemoryRestart string `toml:"max_memory_restart" validate:"required"`
}

type PHPConfig struct {
	FPMSocket string `toml:"fpm_socket" validate:"required,startswith=/"`
}

type ACMEConfig struct {
	Webroot         string `toml:"webroot" validate:"required,startswith=/"`
	DirectoryURL    string `toml:"directory_url" validate:"omitempty,url"`
	Staging         bool   `toml:"staging"`
	AccountDir      string `toml:"account_dir" validate:"required,startswith=/"`
	RenewSchedule   string `toml:"renew_schedule" validate:"required"`
	RenewWithinDays int    `toml:"renew_within_days" validate:"min=1,max=89"`
}

type FirewallConfig struct {
	SSHPort int `toml:"ssh_port" validate:"min=1,max=65535"`
}

// ServiceConfig is the account that owns written artifacts and runs
// systemd services. An empty user leaves ownership alone.
type ServiceConfig struct {
	User  string `toml:"user"`
	Group string `toml:"group"`
}

type DatabaseConfig struct {
	MySQLDSN    string `toml:"mysql_dsn"`
	PostgresDSN string `toml:"postgres_dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" validate:"oneof=debug info warn error"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"min=1"`
	MaxBackups int    `toml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `toml:"max_age_days" validate:"min=0"`
}

type HealthConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds" validate:"min=1"`
	IntervalSeconds int `toml:"interval_seconds" validate:"min=1"`
}

func DefaultDev() *Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".siteup")
	cfg := DefaultProd()
	cfg.Dev = true
	cfg.Paths = PathsConfig{
		StateDB:     filepath.Join(root, "siteup.db"),
		BackupDir:   filepath.Join(root, "backups"),
		LogFile:     filepath.Join(root, "log", "siteup.log"),
		CertDir:     filepath.Join(root, "certs"),
		ScriptsDir:  filepath.Join(root, "scripts"),
		FirewallDir: filepath.Join(root, "firewall"),
		AppLogDir:   filepath.Join(root, "log", "apps"),
		CronDir:     filepath.Join(root, "cron.d"),
		SitesRoot:   filepath.Join(root, "www"),
		Binary:      "/usr/local/bin/siteup",
	}
	cfg.Nginx.SitesAvailable = filepath.Join(root, "nginx", "sites-available")
	cfg.Nginx.SitesEnabled = filepath.Join(root, "nginx", "sites-enabled")
	cfg.Nginx.LogDir = filepath.Join(root, "log", "nginx")
	cfg.Apache.SitesAvailable = filepath.Join(root, "apache2", "sites-available")
	cfg.Apache.SitesEnabled = filepath.Join(root, "apache2", "sites-enabled")
	cfg.Apache.LogDir = filepath.Join(root, "log", "apache2")
	cfg.Systemd.UnitDir = filepath.Join(root, "systemd")
	cfg.PM2.ConfigDir = filepath.Join(root, "pm2")
	cfg.ACME.Webroot = filepath.Join(root, "acme")
	cfg.ACME.AccountDir = filepath.Join(root, "acme-accounts")
	cfg.ACME.Staging = true
	cfg.Service = ServiceConfig{}
	cfg.Log.Level = "debug"
	return cfg
}

func DefaultProd() *Config {
	return &Config{
		Paths: PathsConfig{
			StateDB:     "/var/lib/siteup/siteup.db",
			BackupDir:   "/var/lib/siteup/backups",
			LogFile:     "/var/log/siteup/siteup.log",
			CertDir:     "/etc/siteup/certs",
			ScriptsDir:  "/opt/siteup",
			FirewallDir: "/etc/siteup/firewall",
			AppLogDir:   "/var/log/siteup/apps",
			CronDir:     "/etc/cron.d",
			SitesRoot:   "/var/www",
			Binary:      "/usr/local/bin/siteup",
		},
		Nginx: WebConfig{
			SitesAvailable: "/etc/nginx/sites-available",
			SitesEnabled:   "/etc/nginx/sites-enabled",
			Service:        "nginx",
			LogDir:         "/var/log/nginx",
			TestCommand:    "nginx -t",
		},
		Apache: WebConfig{
			SitesAvailable: "/etc/apache2/sites-available",
			SitesEnabled:   "/etc/apache2/sites-enabled",
			Service:        "apache2",
			LogDir:         "/var/log/apache2",
			TestCommand:    "apache2ctl configtest",
			Modules:        []string{"rewrite", "headers", "ssl", "proxy", "proxy_http", "proxy_wstunnel", "proxy_fcgi", "setenvif", "alias"},
		},
		Systemd: SystemdConfig{UnitDir: "/etc/systemd/system"},
		PM2: PM2Config{
			ConfigDir:        "/etc/siteup/pm2",
			MaxMemoryRestart: "512M",
		},
		PHP: PHPConfig{FPMSocket: "/run/php/php-fpm.sock"},
		ACME: ACMEConfig{
			Webroot:         "/var/lib/siteup/acme",
			AccountDir:      "/etc/siteup/acme",
			RenewSchedule:   "17 3 * * *",
			RenewWithinDays: 30,
		},
		Firewall: FirewallConfig{SSHPort: 22},
		Service:  ServiceConfig{User: "www-data", Group: "www-data"},
		Database: DatabaseConfig{
			MySQLDSN:    "root@unix(/var/run/mysqld/mysqld.sock)/",
			PostgresDSN: "host=/var/run/postgresql user=postgres dbname=postgres sslmode=disable",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 90,
		},
		Health: HealthConfig{TimeoutSeconds: 30, IntervalSeconds: 2},
	}
}

// Load builds the configuration: defaults, then the TOML file at path when
// it exists, then SITEUP_* variables (an env file, when given, is loaded
// into the process environment first without overriding it).
func Load(path string, dev bool, envFile string) (*Config, error) {
	var cfg *Config
	if dev {
		cfg = DefaultDev()
	} else {
		cfg = DefaultProd()
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"SITEUP_STATE_DB":       &c.Paths.StateDB,
		"SITEUP_BACKUP_DIR":     &c.Paths.BackupDir,
		"SITEUP_LOG_FILE":       &c.Paths.LogFile,
		"SITEUP_CERT_DIR":       &c.Paths.CertDir,
		"SITEUP_SITES_ROOT":     &c.Paths.SitesRoot,
		"SITEUP_LOG_LEVEL":      &c.Log.Level,
		"SITEUP_ACME_DIRECTORY": &c.ACME.DirectoryURL,
		"SITEUP_SERVICE_USER":   &c.Service.User,
		"SITEUP_SERVICE_GROUP":  &c.Service.Group,
		"SITEUP_MYSQL_DSN":      &c.Database.MySQLDSN,
		"SITEUP_POSTGRES_DSN":   &c.Database.PostgresDSN,
		"SITEUP_FPM_SOCKET":     &c.PHP.FPMSocket,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("SITEUP_ACME_STAGING"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: SITEUP_ACME_STAGING: %w", err)
		}
		c.ACME.Staging = b
	}
	if v, ok := os.LookupEnv("SITEUP_SSH_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SITEUP_SSH_PORT: %w", err)
		}
		c.Firewall.SSHPort = n
	}
	return nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s: failed %q rule", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cron.ParseStandard(c.ACME.RenewSchedule); err != nil {
		return fmt.Errorf("config: acme.renew_schedule: %w", err)
	}
	for _, w := range []WebConfig{c.Nginx, c.Apache} {
		if _, err := spec.ParseCommand(w.TestCommand); err != nil {
			return fmt.Errorf("config: %s test_command: %w", w.Service, err)
		}
	}
	return nil
}

func (c *Config) Web(ws spec.WebServer) WebConfig {
	if ws == spec.Apache {
		return c.Apache
	}
	return c.Nginx
}

func webLayout(w WebConfig) render.WebLayout {
	test, _ := spec.ParseCommand(w.TestCommand)
	return render.WebLayout{
		SitesDir:    w.SitesAvailable,
		LogDir:      w.LogDir,
		Service:     w.Service,
		TestCommand: test,
	}
}

// Layout maps the configuration onto where the renderer places artifacts.
func (c *Config) Layout() render.Layout {
	return render.Layout{
		Nginx:          webLayout(c.Nginx),
		Apache:         webLayout(c.Apache),
		SystemdUnitDir: c.Systemd.UnitDir,
		PM2ConfigDir:   c.PM2.ConfigDir,
		PM2MaxMemory:   c.PM2.MaxMemoryRestart,
		FirewallDir:    c.Paths.FirewallDir,
		ScriptsDir:     c.Paths.ScriptsDir,
		CronDir:        c.Paths.CronDir,
		AppLogDir:      c.Paths.AppLogDir,
		ACMEWebroot:    c.ACME.Webroot,
		FPMSocket:      c.PHP.FPMSocket,
		SSHPort:        c.Firewall.SSHPort,
		ServiceUser:    c.Service.User,
		ServiceGroup:   c.Service.Group,
		RenewSchedule:  c.ACME.RenewSchedule,
		Binary:         c.Paths.Binary,
		LogFile:        c.Paths.LogFile,
	}
}

func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.Paths.StateDB),
		c.Paths.BackupDir,
		filepath.Dir(c.Paths.LogFile),
		c.Paths.CertDir,
		c.Paths.AppLogDir,
		c.ACME.Webroot,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create dir %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(c.ACME.AccountDir, 0700); err != nil {
		return fmt.Errorf("config: create dir %s: %w", c.ACME.AccountDir, err)
	}
	return nil
}
