package client

import (
	"net"
	"strconv"
	"time"
)

// Target describes the remote host a deployment talks to. It is built once
// at startup and never mutated during a run.
type Target struct {
	User              string
	Host              string
	Port              int
	Password          string
	KeyPath           string
	KeyPassphrase     string
	KnownHostsPath    string
	AllowUnknownHosts bool
	Timeout           time.Duration
}

// Addr returns host:port suitable for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Result is the outcome of one remote command. Transport failures are
// reported in Err; a command that ran but exited non-zero has a nil Err and
// a non-zero ExitCode. ExitCode is -1 when no status was reported.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// OK reports whether the command ran and exited with status 0.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}
