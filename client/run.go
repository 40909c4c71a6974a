package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// session is the slice of *ssh.Session the runner needs.
type session interface {
	Run(cmd string, stdout, stderr io.Writer) error
	Close() error
}

// sessionClient hands out one session per command.
type sessionClient interface {
	NewSession() (session, error)
}

type sshSession struct {
	s *ssh.Session
}

func (w sshSession) Run(cmd string, stdout, stderr io.Writer) error {
	w.s.Stdout = stdout
	w.s.Stderr = stderr
	return w.s.Run(cmd)
}

func (w sshSession) Close() error {
	return w.s.Close()
}

type sshSessions struct {
	c *ssh.Client
}

func (w sshSessions) NewSession() (session, error) {
	s, err := w.c.NewSession()
	if err != nil {
		return nil, err
	}
	return sshSession{s: s}, nil
}

// Conn is a single SSH connection shared by every command and upload of a
// deployment run. It is not safe for concurrent use.
type Conn struct {
	target   Target
	client   *ssh.Client
	sessions sessionClient
	sftp     *sftp.Client
	agent    io.Closer
	log      *logrus.Entry
}

// Dial connects and authenticates to t.
func Dial(ctx context.Context, t Target, log *logrus.Entry) (*Conn, error) {
	log = log.WithField("host", t.Host)

	methods, agentConn, err := authMethods(t)
	if err != nil {
		return nil, err
	}
	closeAgent := func() {
		if agentConn != nil {
			agentConn.Close()
		}
	}
	hostKeys, algos, err := hostKeyCallback(t, log)
	if err != nil {
		closeAgent()
		return nil, err
	}

	addr := t.Addr()
	config := &ssh.ClientConfig{
		User:              t.User,
		Auth:              methods,
		HostKeyCallback:   hostKeys,
		HostKeyAlgorithms: algos,
		Timeout:           t.Timeout,
	}

	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("net dial: %w", err)
	}

	// The handshake is not context aware; bound it with a deadline instead.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if t.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.Timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		closeAgent()
		return nil, fmt.Errorf("ssh client conn: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	log.WithField("user", t.User).Debug("ssh connection established")

	c := &Conn{
		target:   t,
		client:   client,
		sessions: sshSessions{c: client},
		log:      log,
	}
	if agentConn != nil {
		c.agent = agentConn
	}
	return c, nil
}

// Run executes command on the remote host and blocks until it finishes or
// ctx is done. Every failure is reported inside the returned Result.
func (c *Conn) Run(ctx context.Context, command string) Result {
	res := Result{Command: command, ExitCode: -1}
	c.log.WithField("cmd", command).Debug("run")

	sess, err := c.sessions.NewSession()
	if err != nil {
		res.Err = fmt.Errorf("new session: %w", err)
		return res
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command, &stdout, &stderr)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		sess.Close()
		<-done
		err = ctx.Err()
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	case isExitMissing(err):
		res.Err = fmt.Errorf("ssh command error: %w", err)
	default:
		res.Err = err
	}

	if !res.OK() {
		c.log.WithFields(logrus.Fields{
			"cmd":    command,
			"exit":   res.ExitCode,
			"stderr": res.Stderr,
		}).Debug("remote command failed")
	}
	return res
}

// Close tears down the SFTP subsystem, if one was opened, the SSH
// connection and the ssh-agent socket.
func (c *Conn) Close() error {
	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
		c.sftp = nil
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
		c.client = nil
	}
	if c.agent != nil {
		errs = append(errs, c.agent.Close())
		c.agent = nil
	}
	return errors.Join(errs...)
}
