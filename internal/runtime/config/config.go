// Package config holds the process configuration of the bus daemon and the
// per-tenant broker connection parameters.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Tenant identifies one organization's broker connection parameters. The bus
// subsystem only reads these; they are created and updated by administrator
// actions in the backing store.
type Tenant struct {
	Organization string `yaml:"organization"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Active       bool   `yaml:"active"`
}

// Validate checks that every parameter required to dial the broker is set.
func (t Tenant) Validate() error {
	var errs []error

	if t.Organization == "" {
		errs = append(errs, errors.New("organization key is required"))
	}
	if t.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if t.Port <= 0 || t.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", t.Port))
	}
	if t.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if t.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}

	return errors.Join(errs...)
}

// BrokerURL builds the AMQP URL for this tenant. Missing parameters are a
// configuration error, not something a retry loop can fix.
func (t Tenant) BrokerURL() (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("tenant %q: %w", t.Organization, err)
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(t.Username, t.Password),
		Host:   net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
	}
	return u.String(), nil
}

func (t Tenant) String() string {
	// Copy so the password never reaches the logs.
	redacted := t
	if redacted.Password != "" {
		redacted.Password = strings.Repeat("*", 10)
	}
	// Type alias avoids infinite recursion when printing.
	type tenantAlias Tenant
	return fmt.Sprintf("%+v", tenantAlias(redacted))
}

// Task queue transports understood by the daemon.
const (
	TasksTransportChannel = "channel"
	TasksTransportAMQP    = "amqp"
)

// Config is the busd process configuration, read from the environment.
type Config struct {
	TenantsFile     string        `env:"CRISALID_BUS_TENANTS_FILE" envDefault:"tenants.yaml"`
	StopTimeout     time.Duration `env:"CRISALID_BUS_STOP_TIMEOUT" envDefault:"3s"`
	ShutdownTimeout time.Duration `env:"CRISALID_BUS_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	TasksTransport string `env:"CRISALID_BUS_TASKS_TRANSPORT" envDefault:"channel"`
	TasksAMQPURL   string `env:"CRISALID_BUS_TASKS_AMQP_URL"`

	MetricsEnabled bool `env:"CRISALID_BUS_METRICS_ENABLED" envDefault:"true"`
	MetricsPort    int  `env:"CRISALID_BUS_METRICS_PORT" envDefault:"9464"`

	LogLevel string `env:"CRISALID_BUS_LOG_LEVEL" envDefault:"info"`
}

// Load parses and validates the daemon configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the daemon configuration for wiring mistakes.
func (c *Config) Validate() error {
	var errs []error

	switch c.TasksTransport {
	case TasksTransportChannel:
	case TasksTransportAMQP:
		if c.TasksAMQPURL == "" {
			errs = append(errs, errors.New("tasks: amqp transport requires CRISALID_BUS_TASKS_AMQP_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("tasks: unknown transport %q", c.TasksTransport))
	}

	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, errors.New("stop timeout must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel returns the configured log level. Call Validate first; unknown
// values fall back to info here.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
