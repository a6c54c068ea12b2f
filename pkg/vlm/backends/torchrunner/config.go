// Package torchrunner implements the vlm provider interfaces against a
// sidecar inference runner process. The runner holds the actual model
// weights and exposes tokenization, encoder forward passes, and generation
// over a loopback HTTP API; this package supervises the process and speaks
// its protocol.
package torchrunner

import (
	"fmt"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

const (
	// DefaultPython is the interpreter the runner script is started with.
	DefaultPython = "python3"
	// DefaultHost is the loopback address the runner binds to.
	DefaultHost = "127.0.0.1:17434"
	// DefaultStartupTimeout bounds how long Start waits for the runner's
	// health endpoint. Model imports alone can take tens of seconds.
	DefaultStartupTimeout = 2 * time.Minute
)

// Config is the configuration for the runner process.
type Config struct {
	// Python is the interpreter binary.
	Python string
	// Script is the runner server entrypoint.
	Script string
	// Host is the address the runner binds and the client connects to.
	Host string
	// ExtraFlags are additional flags appended to the runner command line,
	// in shell quoting.
	ExtraFlags string
	// StartupTimeout bounds the wait for the runner to become healthy.
	StartupTimeout time.Duration
}

// NewDefaultConfig creates a Config with default values. The script path
// must still be supplied by the caller.
func NewDefaultConfig() Config {
	return Config{
		Python:         DefaultPython,
		Host:           DefaultHost,
		StartupTimeout: DefaultStartupTimeout,
	}
}

// Args builds the runner command line arguments.
func (c Config) Args() ([]string, error) {
	if c.Script == "" {
		return nil, fmt.Errorf("runner script not configured")
	}
	args := []string{c.Script, "--host", c.Host}
	if c.ExtraFlags != "" {
		extra, err := shellwords.Parse(c.ExtraFlags)
		if err != nil {
			return nil, fmt.Errorf("parse runner flags %q: %w", c.ExtraFlags, err)
		}
		args = append(args, extra...)
	}
	return args, nil
}

// BaseURL returns the runner's HTTP endpoint.
func (c Config) BaseURL() string {
	return "http://" + c.Host
}
