// Package config holds the deployment configuration: where to deploy, what
// to copy, how to rebuild and how to verify.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"godeploy/client"
)

// FileEntry is one local file (or directory) copied to the remote host.
type FileEntry struct {
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`
	Label  string `yaml:"label"`
}

// Auth selects where the SSH credential comes from. The credential itself
// never lives in the config file.
type Auth struct {
	PasswordEnv       string `yaml:"password_env"`
	PasswordFile      string `yaml:"password_file"`
	PassphraseEnv     string `yaml:"passphrase_env"`
	KeyPath           string `yaml:"key"`
	KnownHosts        string `yaml:"known_hosts"`
	AllowUnknownHosts bool   `yaml:"allow_unknown_hosts"`
}

type Compose struct {
	File      string `yaml:"file"`
	Service   string `yaml:"service"`
	Container string `yaml:"container"`
	Network   string `yaml:"network"`
	BuildTail int    `yaml:"build_tail"`
}

type Health struct {
	LocalURL      string        `yaml:"local_url"`
	PublicURL     string        `yaml:"public_url"`
	ExpectStatus  int           `yaml:"expect_status"`
	PublicTimeout time.Duration `yaml:"public_timeout"`
	LogTail       int           `yaml:"log_tail"`
}

// Readiness bounds the poll that waits for the restarted container.
type Readiness struct {
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

type Link struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

// Config is built once at startup and passed to the orchestrator.
type Config struct {
	Title       string        `yaml:"title"`
	Server      string        `yaml:"server"`
	Port        int           `yaml:"port"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	BaseDir     string        `yaml:"base_dir"`
	Directories []string      `yaml:"directories"`
	Files       []FileEntry   `yaml:"files"`
	Auth        Auth          `yaml:"auth"`
	Compose     Compose       `yaml:"compose"`
	Health      Health        `yaml:"health"`
	Readiness   Readiness     `yaml:"readiness"`
	Links       []Link        `yaml:"links"`
}

// Default reproduces the survey deployment this tool was written for.
func Default() Config {
	return Config{
		Title:       "MSQ Survey - Complete Deployment",
		Server:      "root@93.93.115.29",
		Port:        22,
		ConnTimeout: 15 * time.Second,
		BaseDir:     "/root/msq-survey-nextjs",
		Directories: []string{
			"src/app/entries",
			"src/app/api/survey/results",
			"src/server/services",
		},
		Files: []FileEntry{
			{Local: "src/app/entries/page.tsx", Remote: "src/app/entries/page.tsx", Label: "entries page"},
			{Local: "src/app/api/survey/results/route.ts", Remote: "src/app/api/survey/results/route.ts", Label: "API route"},
			{Local: "src/server/services/mongoService.ts", Remote: "src/server/services/mongoService.ts", Label: "mongoService"},
		},
		Auth: Auth{
			PasswordEnv:   "DEPLOY_PASSWORD",
			PassphraseEnv: "DEPLOY_SECRET_PASSPHRASE",
		},
		Compose: Compose{
			File:      "docker-compose.prod.yml",
			Service:   "app",
			Container: "msq-survey-nextjs-app",
			Network:   "n8n_default",
			BuildTail: 15,
		},
		Health: Health{
			LocalURL:      "http://localhost:7016/entries",
			PublicURL:     "https://survey.plygrnd.tech/entries",
			ExpectStatus:  200,
			PublicTimeout: 10 * time.Second,
			LogTail:       20,
		},
		Readiness: Readiness{
			Timeout:  30 * time.Second,
			Interval: time.Second,
			MaxDelay: 5 * time.Second,
		},
		Links: []Link{
			{Label: "Admin Dashboard", URL: "https://survey.plygrnd.tech/entries"},
			{Label: "API Endpoint", URL: "https://survey.plygrnd.tech/api/survey/results"},
			{Label: "Survey", URL: "https://survey.plygrnd.tech/glass"},
		},
	}
}

// Load reads the YAML file at p on top of Default. An empty p yields the
// defaults. Unknown keys are rejected.
func Load(p string) (Config, error) {
	cfg := Default()
	if p == "" {
		return cfg.resolve(), nil
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err = Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", p, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg.resolve(), nil
}

// resolve anchors relative remote paths at BaseDir.
func (c Config) resolve() Config {
	dirs := make([]string, len(c.Directories))
	for i, d := range c.Directories {
		dirs[i] = c.RemotePath(d)
	}
	c.Directories = dirs

	files := make([]FileEntry, len(c.Files))
	for i, f := range c.Files {
		if f.Remote == "" {
			f.Remote = f.Local
		}
		f.Remote = c.RemotePath(f.Remote)
		if f.Label == "" {
			f.Label = path.Base(f.Local)
		}
		files[i] = f
	}
	c.Files = files
	return c
}

// RemotePath joins p onto BaseDir unless it is already absolute.
func (c Config) RemotePath(p string) string {
	if path.IsAbs(p) || c.BaseDir == "" {
		return path.Clean(p)
	}
	return path.Join(c.BaseDir, p)
}

// Target builds the SSH target from the configured server address.
func (c Config) Target() (client.Target, error) {
	port := c.Port
	if port == 0 {
		port = 22
	}
	t, err := client.ParseTarget(c.Server, "root", port)
	if err != nil {
		return client.Target{}, err
	}
	t.KeyPath = expandHome(c.Auth.KeyPath)
	t.KnownHostsPath = expandHome(c.Auth.KnownHosts)
	t.AllowUnknownHosts = c.Auth.AllowUnknownHosts
	t.Timeout = c.ConnTimeout
	return t, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// Validate reports the first problem that would make a run meaningless.
func (c Config) Validate() error {
	if c.Server == "" {
		return errors.New("server is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d must be between 1 and 65535, or 0 for the default 22", c.Port)
	}
	if _, err := c.Target(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.ConnTimeout < 0 || c.ConnTimeout > 600*time.Second {
		return errors.New("conn_timeout must be between 0 and 600s")
	}
	if len(c.Files) == 0 {
		return errors.New("at least one file entry is required")
	}
	for i, f := range c.Files {
		if f.Local == "" {
			return fmt.Errorf("files[%d]: local path is required", i)
		}
	}
	if c.Compose.File == "" || c.Compose.Service == "" || c.Compose.Container == "" {
		return errors.New("compose file, service and container are required")
	}
	if c.Compose.BuildTail <= 0 {
		return errors.New("compose.build_tail must be positive")
	}
	if c.Health.LocalURL == "" {
		return errors.New("health.local_url is required")
	}
	if c.Health.ExpectStatus < 100 || c.Health.ExpectStatus > 599 {
		return fmt.Errorf("health.expect_status %d is not an HTTP status", c.Health.ExpectStatus)
	}
	if c.Health.LogTail <= 0 {
		return errors.New("health.log_tail must be positive")
	}
	if c.Readiness.Timeout < 0 || c.Readiness.Interval < 0 {
		return errors.New("readiness durations must not be negative")
	}
	if c.Readiness.Timeout > 0 && c.Readiness.Interval == 0 {
		return errors.New("readiness.interval is required when readiness.timeout is set")
	}
	return nil
}
