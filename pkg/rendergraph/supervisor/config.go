package supervisor

import (
	"fmt"
	"net"
	"strconv"

	"github.com/mattn/go-shellwords"
)

// Config describes how to launch one image worker. Values are passed through
// to the worker command line unchanged.
type Config struct {
	Interpreter string
	EntryPoint  string
	WorkDir     string
	OutputDir   string
	Host        string
	Port        int
	LowVRAM     bool
	CPUOnly     bool
	// ExtraArgs is split with shell quoting rules and appended last.
	ExtraArgs string
	// LogFile receives worker stdout and stderr, appended. Empty discards.
	LogFile string
	// Env entries ("KEY=value") are added to the inherited environment.
	Env []string
	// ReuseExisting adopts a worker already listening on Address instead
	// of failing with ErrPortInUse.
	ReuseExisting bool
}

// Address is the host:port the worker binds.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DialAddress is the host:port clients connect to. A wildcard bind address
// is reached through loopback.
func (c Config) DialAddress() string {
	host := c.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// BaseURL is the HTTP root of the worker API.
func (c Config) BaseURL() string {
	return "http://" + c.DialAddress()
}

// Args returns the interpreter arguments, entry point first.
func (c Config) Args() ([]string, error) {
	if c.EntryPoint == "" {
		return nil, fmt.Errorf("%w: empty entry point", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}

	args := []string{c.EntryPoint}
	if c.OutputDir != "" {
		args = append(args, "--output-directory", c.OutputDir)
	}
	if c.Host != "" {
		args = append(args, "--listen", c.Host)
	}
	args = append(args, "--port", strconv.Itoa(c.Port))
	if c.LowVRAM {
		args = append(args, "--lowvram")
	}
	if c.CPUOnly {
		args = append(args, "--cpu")
	}

	if c.ExtraArgs != "" {
		extra, err := shellwords.Parse(c.ExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("%w: extra args: %w", ErrInvalidConfig, err)
		}
		args = append(args, extra...)
	}
	return args, nil
}
