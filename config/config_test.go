package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"godeploy/secret"
)

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Files, 3)
	require.Equal(t, "/root/msq-survey-nextjs/src/app/entries/page.tsx", cfg.Files[0].Remote)
	require.Equal(t, "entries page", cfg.Files[0].Label)
	require.Equal(t, "/root/msq-survey-nextjs/src/server/services", cfg.Directories[2])

	target, err := cfg.Target()
	require.NoError(t, err)
	require.Equal(t, "root", target.User)
	require.Equal(t, "93.93.115.29", target.Host)
	require.Equal(t, 22, target.Port)
	require.Empty(t, target.Password)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
server: deploy@example.com:2222
base_dir: /srv/app
files:
  - local: web/page.tsx
    remote: src/page.tsx
  - local: assets
    remote: /var/www/assets
    label: static assets
compose:
  file: compose.yml
  service: web
  container: app-web
  network: ""
  build_tail: 5
health:
  local_url: http://localhost:3000/
  expect_status: 204
  log_tail: 50
readiness:
  timeout: 1m
  interval: 2s
auth:
  key: ~/.ssh/deploy
  allow_unknown_hosts: true
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, []FileEntry{
		{Local: "web/page.tsx", Remote: "/srv/app/src/page.tsx", Label: "page.tsx"},
		{Local: "assets", Remote: "/var/www/assets", Label: "static assets"},
	}, cfg.Files)
	require.Equal(t, "", cfg.Compose.Network)
	require.Equal(t, 204, cfg.Health.ExpectStatus)
	require.Equal(t, time.Minute, cfg.Readiness.Timeout)
	require.Equal(t, 2*time.Second, cfg.Readiness.Interval)
	// untouched sections keep their defaults
	require.Equal(t, "https://survey.plygrnd.tech/entries", cfg.Health.PublicURL)

	target, err := cfg.Target()
	require.NoError(t, err)
	require.Equal(t, "deploy", target.User)
	require.Equal(t, 2222, target.Port)
	require.True(t, target.AllowUnknownHosts)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".ssh", "deploy"), target.KeyPath)
}

func TestLoad_Example(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "deploy.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	def, err := Load("")
	require.NoError(t, err)
	require.Equal(t, def, cfg)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("password: hunter2\n"))
	require.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "deploy.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no server":       func(c *Config) { c.Server = "" },
		"bad server":      func(c *Config) { c.Server = "root@host:notaport" },
		"no files":        func(c *Config) { c.Files = nil },
		"empty local":     func(c *Config) { c.Files = []FileEntry{{Remote: "/x"}} },
		"bad status":      func(c *Config) { c.Health.ExpectStatus = 42 },
		"no log tail":     func(c *Config) { c.Health.LogTail = 0 },
		"no service":      func(c *Config) { c.Compose.Service = "" },
		"huge timeout":    func(c *Config) { c.ConnTimeout = time.Hour },
		"no interval":     func(c *Config) { c.Readiness.Interval = 0 },
		"negative ready":  func(c *Config) { c.Readiness.Timeout = -time.Second },
		"no local health": func(c *Config) { c.Health.LocalURL = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestValidate_Port(t *testing.T) {
	for _, port := range []int{-1, 65536, 70000} {
		cfg := Default()
		cfg.Port = port
		err := cfg.Validate()
		require.Error(t, err, port)
		require.Contains(t, err.Error(), "or 0 for the default 22")
	}

	cfg := Default()
	cfg.Port = 0
	require.NoError(t, cfg.Validate())
	target, err := cfg.Target()
	require.NoError(t, err)
	require.Equal(t, 22, target.Port)

	cfg.Port = 65535
	require.NoError(t, cfg.Validate())
}

func TestPassword(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }
	noPrompt := func(string) (string, error) {
		t.Fatal("unexpected prompt")
		return "", nil
	}

	cfg := Default()
	pw, err := cfg.Password(getenv, noPrompt)
	require.NoError(t, err)
	require.Empty(t, pw)

	env["DEPLOY_PASSWORD"] = "from-env"
	pw, err = cfg.Password(getenv, noPrompt)
	require.NoError(t, err)
	require.Equal(t, "from-env", pw)
}

func TestPassword_SecretFile(t *testing.T) {
	enc, err := secret.Encrypt("from-file", "pp")
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "deploy.secret")
	require.NoError(t, os.WriteFile(p, []byte(enc), 0o600))

	cfg := Default()
	cfg.Auth.PasswordFile = p

	env := map[string]string{"DEPLOY_SECRET_PASSPHRASE": "pp"}
	pw, err := cfg.Password(func(k string) string { return env[k] }, nil)
	require.NoError(t, err)
	require.Equal(t, "from-file", pw)

	prompted := 0
	pw, err = cfg.Password(func(string) string { return "" }, func(string) (string, error) {
		prompted++
		return "pp", nil
	})
	require.NoError(t, err)
	require.Equal(t, "from-file", pw)
	require.Equal(t, 1, prompted)

	_, err = cfg.Password(func(string) string { return "" }, func(string) (string, error) {
		return "wrong", nil
	})
	require.ErrorIs(t, err, secret.ErrWrongPassphrase)

	_, err = cfg.Password(func(string) string { return "" }, func(string) (string, error) {
		return "", errors.New("no tty")
	})
	require.Error(t, err)

	_, err = cfg.Password(func(string) string { return "" }, nil)
	require.Error(t, err)
}
