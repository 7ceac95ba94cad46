package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/reviewapps-dev/siteup/internal/env"
	"github.com/reviewapps-dev/siteup/internal/spec"
)

// Credentials are what the application needs to reach its database.
type Credentials struct {
	Engine   spec.Database
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

func (c Credentials) URL() string {
	scheme := "mysql"
	if c.Engine == spec.PostgreSQL {
		scheme = "postgres"
	}
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Name,
	}
	return u.String()
}

// Env is the credentials block merged into the application's .env.
func (c Credentials) Env() map[string]string {
	conn := "mysql"
	if c.Engine == spec.PostgreSQL {
		conn = "pgsql"
	}
	return map[string]string{
		"DATABASE_URL":  c.URL(),
		"DB_CONNECTION": conn,
		"DB_HOST":       c.Host,
		"DB_PORT":       strconv.Itoa(c.Port),
		"DB_DATABASE":   c.Name,
		"DB_USERNAME":   c.User,
		"DB_PASSWORD":   c.Password,
	}
}

// Names derives the database and user name for a service id. Both fit the
// 32 character MySQL user name limit.
func Names(serviceID string) (name, user string) {
	base := "su_" + sanitize(serviceID)
	if len(base) > 32 {
		base = base[:32]
	}
	return base, base
}

// Provisioner creates a database and a user that owns it. It connects with
// an administrative DSN per engine.
type Provisioner struct {
	MySQLDSN    string
	PostgresDSN string

	open func(driver, dsn string) (*sql.DB, error)
}

func (p *Provisioner) Provision(ctx context.Context, engine spec.Database, serviceID string) (Credentials, error) {
	name, user := Names(serviceID)
	creds := Credentials{
		Engine:   engine,
		Host:     "127.0.0.1",
		Name:     name,
		User:     user,
		Password: env.GenerateSecret(16),
	}

	open := p.open
	if open == nil {
		open = sql.Open
	}

	switch engine {
	case spec.MySQL:
		creds.Port = 3306
		return creds, p.run(ctx, open, "mysql", p.MySQLDSN, func(db *sql.DB) error {
			return provisionMySQL(ctx, db, creds)
		})
	case spec.PostgreSQL:
		creds.Port = 5432
		return creds, p.run(ctx, open, "pgx", p.PostgresDSN, func(db *sql.DB) error {
			return provisionPostgres(ctx, db, creds)
		})
	}
	return Credentials{}, fmt.Errorf("database: unsupported engine %q", engine)
}

func (p *Provisioner) run(ctx context.Context, open func(string, string) (*sql.DB, error), driver, dsn string, fn func(*sql.DB) error) error {
	if dsn == "" {
		return fmt.Errorf("database: no admin DSN configured for %s", driver)
	}
	db, err := open(driver, dsn)
	if err != nil {
		return fmt.Errorf("database: open %s: %w", driver, err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: connect %s: %w", driver, err)
	}
	return fn(db)
}

// Identifiers come from sanitize and passwords are hex, so both are safe to
// interpolate. DDL cannot take bind parameters.
func provisionMySQL(ctx context.Context, db *sql.DB, c Credentials) error {
	stmts := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", c.Name),
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'localhost' IDENTIFIED BY '%s'", c.User, c.Password),
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'127.0.0.1' IDENTIFIED BY '%s'", c.User, c.Password),
		fmt.Sprintf("ALTER USER '%s'@'localhost' IDENTIFIED BY '%s'", c.User, c.Password),
		fmt.Sprintf("ALTER USER '%s'@'127.0.0.1' IDENTIFIED BY '%s'", c.User, c.Password),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'localhost'", c.Name, c.User),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'127.0.0.1'", c.Name, c.User),
		"FLUSH PRIVILEGES",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
	}
	return nil
}

func provisionPostgres(ctx context.Context, db *sql.DB, c Credentials) error {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_roles WHERE rolname = $1", c.User).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE ROLE "%s" LOGIN PASSWORD '%s'`, c.User, c.Password))
	case err == nil:
		_, err = db.ExecContext(ctx, fmt.Sprintf(`ALTER ROLE "%s" WITH LOGIN PASSWORD '%s'`, c.User, c.Password))
	}
	if err != nil {
		return fmt.Errorf("postgres role: %w", err)
	}

	err = db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", c.Name).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE "%s" OWNER "%s" ENCODING 'UTF8'`, c.Name, c.User))
	case err == nil:
		_, err = db.ExecContext(ctx, fmt.Sprintf(`ALTER DATABASE "%s" OWNER TO "%s"`, c.Name, c.User))
	}
	if err != nil {
		return fmt.Errorf("postgres database: %w", err)
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return '_'
	}, s)
}
