package db

import (
	"fmt"
	"net/url"
	"strings"
)

// Params are the libpq-style connection settings (PGHOST, PGPORT, ...).
type Params struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders p as a postgres:// URL. User and password are escaped.
func (p Params) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	} else {
		u.User = url.User(p.User)
	}
	return u.String()
}

// WithDBName returns dsn with its database path replaced.
// Supports postgres:// and postgresql:// schemes; a DSN without a scheme is
// treated as postgres://.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}
