package config

import (
	"errors"
	"fmt"

	"godeploy/secret"
)

// Password resolves the SSH password without ever reading it from the
// config file. The environment variable named by Auth.PasswordEnv wins;
// otherwise Auth.PasswordFile is decrypted with the passphrase from
// Auth.PassphraseEnv or, failing that, from prompt. An empty result means
// key or agent authentication.
func (c Config) Password(getenv func(string) string, prompt func(label string) (string, error)) (string, error) {
	if c.Auth.PasswordEnv != "" {
		if pw := getenv(c.Auth.PasswordEnv); pw != "" {
			return pw, nil
		}
	}
	if c.Auth.PasswordFile == "" {
		return "", nil
	}

	var passphrase string
	if c.Auth.PassphraseEnv != "" {
		passphrase = getenv(c.Auth.PassphraseEnv)
	}
	if passphrase == "" {
		if prompt == nil {
			return "", errors.New("password_file is set but no passphrase is available")
		}
		p, err := prompt("Secret passphrase: ")
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		passphrase = p
	}

	pw, err := secret.ReadFile(expandHome(c.Auth.PasswordFile), passphrase)
	if err != nil {
		return "", fmt.Errorf("password_file %s: %w", c.Auth.PasswordFile, err)
	}
	return pw, nil
}
