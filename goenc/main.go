// Command goenc encrypts or decrypts a deploy secret file in place.
//
// The encrypted file is what godeploy reads through the password_file
// setting.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"godeploy/secret"
)

const maxAttempts = 3

var errAttempts = errors.New("maximum passphrase attempts reached")

// tool rewrites one secret file. prompt reads a passphrase; confirm asks
// for it twice.
type tool struct {
	prompt func(confirm bool) (string, error)
	out    io.Writer
}

func (t tool) seal(p string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	pw, err := t.prompt(true)
	if err != nil {
		return fmt.Errorf("passphrase: %w", err)
	}
	enc, err := secret.Encrypt(strings.TrimRight(string(data), "\r\n"), pw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, []byte(enc+"\n"), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%s encrypted\n", p)
	return nil
}

// open decrypts p, asking again on a wrong passphrase up to maxAttempts
// times. The file is left untouched until a passphrase works.
func (t tool) open(p string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	for i := 0; i < maxAttempts; i++ {
		pw, err := t.prompt(false)
		if err != nil {
			return fmt.Errorf("passphrase: %w", err)
		}
		plain, err := secret.Decrypt(string(data), pw)
		if errors.Is(err, secret.ErrWrongPassphrase) {
			fmt.Fprintln(t.out, "Incorrect passphrase.")
			continue
		}
		if err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(plain+"\n"), 0o600); err != nil {
			return err
		}
		fmt.Fprintf(t.out, "%s decrypted\n", p)
		return nil
	}
	return errAttempts
}

func readPassphrase(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return string(b), err
}

func terminalPrompt(confirm bool) (string, error) {
	pw, err := readPassphrase("Passphrase: ")
	if err != nil || !confirm {
		return pw, err
	}
	again, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", errors.New("passphrases do not match")
	}
	return pw, nil
}

func main() {
	var encryptPath, decryptPath string
	pflag.StringVarP(&encryptPath, "encrypt", "e", "", "encrypt `file` in place")
	pflag.StringVarP(&decryptPath, "decrypt", "d", "", "decrypt `file` in place")
	pflag.Parse()

	if (encryptPath == "") == (decryptPath == "") {
		fmt.Fprintln(os.Stderr, "usage: goenc -e <file> | -d <file>")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	t := tool{prompt: terminalPrompt, out: os.Stdout}
	var err error
	if encryptPath != "" {
		err = t.seal(encryptPath)
	} else {
		err = t.open(decryptPath)
	}
	if err != nil {
		logrus.WithError(err).Fatal("goenc failed")
	}
}
