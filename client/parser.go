package client

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTarget parses a compact server address of the form [user@]host[:port].
// Missing parts fall back to defaultUser and defaultPort.
func ParseTarget(line, defaultUser string, defaultPort int) (Target, error) {
	user := defaultUser
	port := defaultPort
	host := strings.TrimSpace(line)

	if strings.Contains(host, "@") {
		parts := strings.SplitN(host, "@", 2)
		user = parts[0]
		host = parts[1]
	}

	// A bracketed IPv6 literal carries its own colons.
	if strings.HasPrefix(host, "[") {
		end := strings.Index(host, "]")
		if end < 0 {
			return Target{}, fmt.Errorf("unterminated IPv6 address in %q", line)
		}
		rest := host[end+1:]
		host = host[1:end]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return Target{}, fmt.Errorf("invalid address %q", line)
			}
			p, err := parsePort(rest[1:], line)
			if err != nil {
				return Target{}, err
			}
			port = p
		}
	} else if strings.Contains(host, ":") {
		parts := strings.SplitN(host, ":", 2)
		host = parts[0]
		p, err := parsePort(parts[1], line)
		if err != nil {
			return Target{}, err
		}
		port = p
	}

	if host == "" {
		return Target{}, fmt.Errorf("missing host in %q", line)
	}
	if user == "" {
		return Target{}, fmt.Errorf("missing user in %q", line)
	}

	return Target{
		User: user,
		Host: host,
		Port: port,
	}, nil
}

func parsePort(s, line string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("invalid port in %q", line)
	}
	return p, nil
}
