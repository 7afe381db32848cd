package pool

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxConnectionsLimit is the largest allowed max_connections value.
	MaxConnectionsLimit = 1000

	MinConnectTimeout = time.Second
	MaxConnectTimeout = 60 * time.Second

	MinIdleTimeout = 60 * time.Second
	MaxIdleTimeout = 3600 * time.Second

	DefaultMaxConnections = 10
	DefaultMinConnections = 1
	DefaultConnectTimeout = 5 * time.Second
	DefaultIdleTimeout    = 300 * time.Second
	DefaultSQLPort        = 5432
	DefaultSSLMode        = "disable"

	schemeKV       = "kv"
	schemeKVSecure = "kvs"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Config holds the settings for both pools. An empty KV.URL leaves the KV
// pool unconfigured.
type Config struct {
	SQL SQLConfig
	KV  KVConfig
}

// SQLConfig configures the SQL connection pool.
type SQLConfig struct {
	Host     string
	Port     int
	Database string
	User     string

	// Password is read from the environment only and never persisted.
	Password string

	// SSLMode is passed through to the driver (disable, require, verify-full).
	SSLMode string

	MaxConnections int
	MinConnections int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

// KVConfig configures the KV connection pool.
type KVConfig struct {
	// URL has the form kv://[user:password@]host:port[/db], or kvs:// for TLS.
	URL string

	// Password overrides any password embedded in URL.
	Password string

	MaxConnections int
	MinConnections int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

// Configured reports whether a KV URL was provided.
func (c KVConfig) Configured() bool {
	return c.URL != ""
}

// Validate checks every pool invariant. The KV config is only checked when
// it is configured.
func (c Config) Validate() error {
	if err := c.SQL.Validate(); err != nil {
		return err
	}
	if c.KV.Configured() {
		if err := c.KV.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the SQL pool invariants.
func (c SQLConfig) Validate() error {
	if err := validateIdentifier("sql.host", c.Host); err != nil {
		return err
	}
	if err := validateIdentifier("sql.database", c.Database); err != nil {
		return err
	}
	if err := validateIdentifier("sql.user", c.User); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "sql.port", Reason: fmt.Sprintf("%d is outside 1..65535", c.Port)}
	}
	return validateLimits("sql", c.MinConnections, c.MaxConnections, c.ConnectTimeout, c.IdleTimeout)
}

// Validate checks the KV pool invariants.
func (c KVConfig) Validate() error {
	if _, err := c.redisURL(); err != nil {
		return err
	}
	return validateLimits("kv", c.MinConnections, c.MaxConnections, c.ConnectTimeout, c.IdleTimeout)
}

// DSN renders the connection string handed to the pgx driver.
func (c SQLConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}

	q := url.Values{}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = DefaultSSLMode
	}
	q.Set("sslmode", sslmode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// redisURL maps the kv:// and kvs:// schemes onto the schemes understood by
// the redis client.
func (c KVConfig) redisURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", &ConfigError{Field: "kv.url", Reason: "unparseable URL"}
	}

	switch strings.ToLower(u.Scheme) {
	case schemeKV:
		u.Scheme = "redis"
	case schemeKVSecure:
		u.Scheme = "rediss"
	default:
		return "", &ConfigError{Field: "kv.url", Reason: fmt.Sprintf("scheme %q must be kv or kvs", u.Scheme)}
	}

	if u.Hostname() == "" {
		return "", &ConfigError{Field: "kv.url", Reason: "missing host"}
	}
	if err := validateIdentifier("kv.host", u.Hostname()); err != nil {
		return "", err
	}

	return u.String(), nil
}

func validateIdentifier(field, value string) error {
	if !identifierPattern.MatchString(value) {
		return &ConfigError{Field: field, Reason: fmt.Sprintf("%q must match [A-Za-z0-9._-]+", value)}
	}
	return nil
}

func validateLimits(prefix string, minConns, maxConns int, connectTimeout, idleTimeout time.Duration) error {
	switch {
	case maxConns < 1 || maxConns > MaxConnectionsLimit:
		return &ConfigError{
			Field:  prefix + ".max_connections",
			Reason: fmt.Sprintf("%d is outside 1..%d", maxConns, MaxConnectionsLimit),
		}
	case minConns < 1 || minConns > maxConns:
		return &ConfigError{
			Field:  prefix + ".min_connections",
			Reason: fmt.Sprintf("%d is outside 1..max_connections (%d)", minConns, maxConns),
		}
	case connectTimeout < MinConnectTimeout || connectTimeout > MaxConnectTimeout:
		return &ConfigError{
			Field:  prefix + ".connect_timeout",
			Reason: fmt.Sprintf("%s is outside [%s, %s]", connectTimeout, MinConnectTimeout, MaxConnectTimeout),
		}
	case idleTimeout < MinIdleTimeout || idleTimeout > MaxIdleTimeout:
		return &ConfigError{
			Field:  prefix + ".idle_timeout",
			Reason: fmt.Sprintf("%s is outside [%s, %s]", idleTimeout, MinIdleTimeout, MaxIdleTimeout),
		}
	}
	return nil
}
