package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"godeploy/client"
	"godeploy/config"
	"godeploy/deploy"
	"godeploy/health"
)

func readSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	p, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func fail(log *logrus.Logger, format string, a ...interface{}) {
	log.Errorf(format, a...)
	os.Exit(1)
}

func main() {
	var configArg, hostArg, userArg, keyArg, logLevel string
	var portArg, timeoutSeconds int
	var promptForPassword, allowUnknownHosts, dryRun bool

	pflag.StringVarP(&configArg, "config", "c", "", "Path to deploy YAML config (defaults are used when omitted)")
	pflag.StringVarP(&hostArg, "host", "h", "", "Override server address ([user@]host[:port])")
	pflag.StringVarP(&userArg, "user", "u", "", "Override SSH username")
	pflag.IntVarP(&portArg, "port", "p", 0, "Override SSH port")
	pflag.StringVarP(&keyArg, "key", "k", "", "Path to SSH private key")
	pflag.IntVarP(&timeoutSeconds, "timeout", "t", -1, "Timeout in seconds for the SSH connection")
	pflag.BoolVarP(&promptForPassword, "password", "w", false, "Prompt for SSH password")
	pflag.BoolVarP(&allowUnknownHosts, "allow-unknown-hosts", "a", false, "Skip SSH host key verification")
	pflag.BoolVar(&dryRun, "dry-run", false, "Print planned commands and uploads without connecting")
	pflag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pflag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fail(log, "invalid --log-level %q", logLevel)
	}
	log.SetLevel(level)

	cfg, err := config.Load(configArg)
	if err != nil {
		fail(log, "%v", err)
	}

	if hostArg != "" {
		cfg.Server = hostArg
	}
	if pflag.Lookup("port").Changed {
		cfg.Port = portArg
	}
	if keyArg != "" {
		cfg.Auth.KeyPath = keyArg
	}
	if allowUnknownHosts {
		cfg.Auth.AllowUnknownHosts = true
	}
	if timeoutSeconds >= 0 {
		if timeoutSeconds > 600 {
			fail(log, "timeout must be a positive integer less than or equal to 600")
		}
		cfg.ConnTimeout = time.Duration(timeoutSeconds) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		fail(log, "invalid configuration: %v", err)
	}

	target, err := cfg.Target()
	if err != nil {
		fail(log, "%v", err)
	}
	if userArg != "" {
		target.User = userArg
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry := logrus.NewEntry(log)

	var (
		conn     *client.Conn
		runner   deploy.Runner
		uploader deploy.Uploader
		prober   deploy.Prober
	)
	if dryRun {
		dry := deploy.DryRun{Log: entry}
		runner, uploader, prober = dry, dry, dry
		cfg.Readiness.Timeout = 0
	} else {
		if promptForPassword {
			target.Password, err = readSecret("Password: ")
		} else {
			target.Password, err = cfg.Password(os.Getenv, readSecret)
		}
		if err != nil {
			fail(log, "reading password: %v", err)
		}

		conn, err = client.Dial(ctx, target, entry.WithField("component", "ssh"))
		if err != nil {
			fail(log, "connecting to %s: %v", target.Addr(), err)
		}
		runner, uploader = conn, conn
		prober = health.NewHTTPProber(cfg.Health.PublicTimeout)
	}

	_, err = deploy.New(cfg, runner, uploader, prober, os.Stdout, entry).Run(ctx)
	if conn != nil {
		conn.Close()
	}
	if err != nil {
		log.WithError(err).Error("deployment aborted")
		os.Exit(1)
	}
}
