// Package config loads the five environment variables every process in
// this system needs to reach the shared Postgres store, plus a log
// level. Per spec, missing any of the five is a fatal startup error —
// there is no config file, no defaulted host/port, no CLI surface.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// ErrMissingEnv is wrapped with the offending variable name and returned
// by Load when a required Postgres connection variable is unset.
var ErrMissingEnv = errors.New("missing required environment variable")

// Postgres holds the five connection variables spec.md §6 requires.
type Postgres struct {
	User     string
	Password string
	Host     string
	Port     string
	DB       string
}

// DSN renders the connection string pgx expects.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.DB)
}

// Config is the full set of environment-derived settings shared by every
// binary in cmd/.
type Config struct {
	Postgres Postgres
	LogLevel string
}

var requiredVars = []string{
	"POSTGRES_USER",
	"POSTGRES_PASSWORD",
	"POSTGRES_HOST",
	"POSTGRES_PORT",
	"POSTGRES_DB",
}

// Load reads the required Postgres variables and an optional LOG_LEVEL
// from the process environment. Any missing required variable is a
// fatal configuration error — the caller is expected to log and exit
// non-zero, never to retry or substitute a default.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LOG_LEVEL", "info")

	values := make(map[string]string, len(requiredVars))
	for _, name := range requiredVars {
		val := v.GetString(name)
		if val == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingEnv, name)
		}
		values[name] = val
	}

	return &Config{
		Postgres: Postgres{
			User:     values["POSTGRES_USER"],
			Password: values["POSTGRES_PASSWORD"],
			Host:     values["POSTGRES_HOST"],
			Port:     values["POSTGRES_PORT"],
			DB:       values["POSTGRES_DB"],
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}, nil
}
