package client

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type fakeSession struct {
	stdout string
	stderr string
	err    error
	block  chan struct{}
	ran    string
	closed bool
}

func (s *fakeSession) Run(cmd string, stdout, stderr io.Writer) error {
	s.ran = cmd
	if s.block != nil {
		<-s.block
		return io.EOF
	}
	_, _ = io.WriteString(stdout, s.stdout)
	_, _ = io.WriteString(stderr, s.stderr)
	return s.err
}

func (s *fakeSession) Close() error {
	if !s.closed {
		s.closed = true
		if s.block != nil {
			close(s.block)
		}
	}
	return nil
}

type fakeSessions struct {
	sess   *fakeSession
	newErr error
}

func (f *fakeSessions) NewSession() (session, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	return f.sess, nil
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestConn(s sessionClient) *Conn {
	return &Conn{sessions: s, log: testLog()}
}

func TestRun_Success(t *testing.T) {
	s := &fakeSession{stdout: "OK\n", stderr: "warn\n"}
	res := newTestConn(&fakeSessions{sess: s}).Run(context.Background(), "echo OK")

	require.True(t, res.OK())
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "OK\n", res.Stdout)
	require.Equal(t, "warn\n", res.Stderr)
	require.Equal(t, "echo OK", res.Command)
	require.Equal(t, "echo OK", s.ran)
	require.True(t, s.closed)
}

func TestRun_NewSessionError(t *testing.T) {
	res := newTestConn(&fakeSessions{newErr: errors.New("no session")}).Run(context.Background(), "ls")

	require.False(t, res.OK())
	require.Error(t, res.Err)
	require.Equal(t, -1, res.ExitCode)
	require.Empty(t, res.Stdout)
}

func TestRun_ExitMissing(t *testing.T) {
	s := &fakeSession{stdout: "partial", err: &ssh.ExitMissingError{}}
	res := newTestConn(&fakeSessions{sess: s}).Run(context.Background(), "ls")

	require.False(t, res.OK())
	require.Error(t, res.Err)
	require.Equal(t, -1, res.ExitCode)
	require.Equal(t, "partial", res.Stdout)
}

func TestRun_TransportError(t *testing.T) {
	s := &fakeSession{err: errors.New("broken pipe")}
	res := newTestConn(&fakeSessions{sess: s}).Run(context.Background(), "ls")

	require.EqualError(t, res.Err, "broken pipe")
	require.Equal(t, -1, res.ExitCode)
}

func TestRun_ContextCancelClosesSession(t *testing.T) {
	s := &fakeSession{block: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := newTestConn(&fakeSessions{sess: s}).Run(ctx, "sleep 60")

	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.Equal(t, -1, res.ExitCode)
	require.True(t, s.closed)
}

func TestResultOK(t *testing.T) {
	require.True(t, Result{ExitCode: 0}.OK())
	require.False(t, Result{ExitCode: 1}.OK())
	require.False(t, Result{ExitCode: 0, Err: errors.New("x")}.OK())
}

func TestTargetAddr(t *testing.T) {
	require.Equal(t, "example.com:22", Target{Host: "example.com", Port: 22}.Addr())
	require.Equal(t, "[::1]:2222", Target{Host: "::1", Port: 2222}.Addr())
}

func TestClose_ReleasesAgentSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "agent")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "agent.sock")

	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer l.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	t.Setenv("SSH_AUTH_SOCK", sock)
	methods, agentConn, err := authMethods(Target{Password: "pw"})
	require.NoError(t, err)
	require.NotNil(t, agentConn)
	require.GreaterOrEqual(t, len(methods), 2)

	peer := <-accepted
	defer peer.Close()

	conn := &Conn{agent: agentConn, log: testLog()}
	require.NoError(t, conn.Close())

	_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = peer.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestAuthMethods_NoAgent(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	_, agentConn, err := authMethods(Target{Password: "pw"})
	require.NoError(t, err)
	require.Nil(t, agentConn)
}
