package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	skeemakh "github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

var defaultKeyFiles = []string{"id_rsa", "id_ed25519"}

// hostKeyCallback returns the host key check for t together with the host
// key algorithms known_hosts already holds for it.
func hostKeyCallback(t Target, log *logrus.Entry) (ssh.HostKeyCallback, []string, error) {
	if t.AllowUnknownHosts {
		log.Warn("SSH: skipping host key verification (INSECURE MODE)")
		return ssh.InsecureIgnoreHostKey(), nil, nil
	}

	path := t.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	kh, err := skeemakh.NewDB(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load known_hosts DB: %w", err)
	}
	check := kh.HostKeyCallback()

	cb := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		if skeemakh.IsHostUnknown(err) {
			line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
			return fmt.Errorf("host %s is not in %s; verify its key and add:\n%s\n: %w", hostname, path, line, err)
		}
		return err
	}
	return cb, kh.HostKeyAlgorithms(t.Addr()), nil
}

// authMethods collects every usable authentication method for t: explicit
// key, ssh-agent, password and finally the default keys in ~/.ssh. The
// returned agent connection is nil when no agent is reachable; otherwise the
// caller owns it and must close it.
func authMethods(t Target) ([]ssh.AuthMethod, net.Conn, error) {
	var methods []ssh.AuthMethod

	if t.KeyPath != "" {
		key, err := privateKeyFile(t.KeyPath, t.KeyPassphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("load key %s: %w", t.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(key))
	}

	var agentConn net.Conn
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if c, err := net.Dial("unix", sock); err == nil {
			agentConn = c
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(c).Signers))
		}
	}

	if strings.TrimSpace(t.Password) != "" {
		methods = append(methods, ssh.Password(t.Password))
	}

	if t.KeyPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			for _, filename := range defaultKeyFiles {
				key, err := privateKeyFile(filepath.Join(home, ".ssh", filename), "")
				if err == nil {
					methods = append(methods, ssh.PublicKeys(key))
					break
				}
			}
		}
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no authentication methods available")
	}
	return methods, agentConn, nil
}

func privateKeyFile(file, passphrase string) (ssh.Signer, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(buf, []byte(passphrase))
	}
	key, err := ssh.ParsePrivateKey(buf)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("private key is encrypted; set a key passphrase")
		}
		return nil, err
	}
	return key, nil
}

// isExitMissing reports whether the remote side closed the session without
// sending an exit status.
func isExitMissing(err error) bool {
	var missing *ssh.ExitMissingError
	return errors.As(err, &missing)
}
