// Package deploy runs the deployment sequence: create remote directories,
// upload files, rebuild the compose service, restart its container and
// verify it over HTTP. Steps run strictly in order and none is retried
// except the readiness poll.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"godeploy/client"
	"godeploy/config"
	"godeploy/health"
)

// ErrUploadFailed marks a run aborted because a file could not be copied.
var ErrUploadFailed = errors.New("upload failed")

// Runner executes one remote shell command.
type Runner interface {
	Run(ctx context.Context, command string) client.Result
}

// Uploader copies one local file to a remote path.
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// Prober fetches a URL from the local machine.
type Prober interface {
	Probe(ctx context.Context, url string) health.Status
}

// Report summarizes a completed run.
type Report struct {
	Uploaded int

	// BuildOK is the exit status of docker compose build itself. The log is
	// trimmed to its tail on the host, but the trim never masks the status.
	BuildOK bool

	// RestartOK is false when up -d or docker ps failed. A failed down or
	// network connect is tolerated.
	RestartOK bool

	LocalStatus  health.Status
	PublicStatus health.Status
	Healthy      bool
	LogsDumped   bool
	Duration     time.Duration
}

// Deployer owns one deployment run.
type Deployer struct {
	cfg    config.Config
	runner Runner
	up     Uploader
	probe  Prober
	con    console
	log    *logrus.Entry
}

func New(cfg config.Config, runner Runner, up Uploader, probe Prober, out io.Writer, log *logrus.Entry) *Deployer {
	return &Deployer{
		cfg:    cfg,
		runner: runner,
		up:     up,
		probe:  probe,
		con:    console{w: out},
		log:    log.WithField("component", "deploy"),
	}
}

// Run executes every step in order. The only error it returns is an upload
// failure (wrapping ErrUploadFailed) or context cancellation during
// uploads; build, restart and verification problems are printed and
// recorded in the Report.
func (d *Deployer) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	rep := Report{}
	total := len(d.cfg.Files) + 3
	n := 1

	d.con.banner(d.cfg.Title)

	d.con.step(n, total, "Creating directories on server...")
	if err := d.EnsureDirs(ctx); err != nil {
		d.con.warn("Could not create directories: %v", err)
		d.log.WithError(err).Warn("directory step failed")
	} else {
		d.con.ok("Directories created")
	}

	for _, f := range d.cfg.Files {
		n++
		d.con.step(n, total, "Copying %s...", f.Label)
		count, err := d.upload(ctx, f)
		if err != nil {
			d.con.fail("Failed to copy %s", f.Label)
			d.log.WithError(err).WithField("file", f.Local).Error("upload failed")
			rep.Duration = time.Since(start)
			return rep, fmt.Errorf("%w: %s: %w", ErrUploadFailed, f.Label, err)
		}
		rep.Uploaded += count
		d.con.ok("%s copied", f.Label)
	}

	n++
	d.con.step(n, total, "Building Docker image...")
	rep.BuildOK = d.build(ctx)

	n++
	d.con.step(n, total, "Restarting container...")
	rep.RestartOK = d.restart(ctx)

	d.verify(ctx, &rep)
	d.summary()

	rep.Duration = time.Since(start)
	d.log.WithFields(logrus.Fields{
		"uploaded": rep.Uploaded,
		"healthy":  rep.Healthy,
		"duration": rep.Duration.Round(time.Millisecond),
	}).Info("deployment finished")
	return rep, nil
}

// Directories lists every remote directory the run needs: the configured
// ones followed by the parents of each transfer entry, without repeats.
func (d *Deployer) Directories() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(p string) {
		if p == "" || p == "/" || p == "." || seen[p] {
			return
		}
		seen[p] = true
		dirs = append(dirs, p)
	}
	for _, dir := range d.cfg.Directories {
		add(dir)
	}
	for _, f := range d.cfg.Files {
		add(path.Dir(f.Remote))
	}
	return dirs
}

// EnsureDirs creates the remote directories with mkdir -p, so repeating it
// is harmless.
func (d *Deployer) EnsureDirs(ctx context.Context) error {
	dirs := d.Directories()
	if len(dirs) == 0 {
		return nil
	}
	quoted := make([]string, len(dirs))
	for i, dir := range dirs {
		quoted[i] = client.Quote(dir)
	}
	res := d.runner.Run(ctx, "mkdir -p "+strings.Join(quoted, " "))
	return resultErr(res)
}

func (d *Deployer) upload(ctx context.Context, f config.FileEntry) (int, error) {
	info, err := os.Stat(f.Local)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return client.UploadTree(ctx, d.up, f.Local, f.Remote)
	}
	if err := d.up.Upload(ctx, f.Local, f.Remote); err != nil {
		return 0, err
	}
	return 1, nil
}

func (d *Deployer) compose(args string) string {
	return fmt.Sprintf("docker compose -f %s %s", client.Quote(d.cfg.Compose.File), args)
}

// BuildCommand rebuilds the compose service and keeps only the tail of the
// build log. The command exits with the build's status, not the tail's.
func (d *Deployer) BuildCommand() string {
	return fmt.Sprintf(`cd %s && out=$(%s 2>&1); rc=$?; printf '%%s\n' "$out" | tail -n %d; exit $rc`,
		client.Quote(d.cfg.BaseDir),
		d.compose("build "+client.Quote(d.cfg.Compose.Service)),
		d.cfg.Compose.BuildTail)
}

func (d *Deployer) build(ctx context.Context) bool {
	res := d.runner.Run(ctx, d.BuildCommand())
	d.con.output(res.Stdout)
	if err := resultErr(res); err != nil {
		d.con.warn("Build reported a problem: %v", err)
		d.log.WithError(err).Warn("build failed")
		return false
	}
	d.con.ok("Docker image built")
	return true
}

// RestartCommand stops the service (tolerating "not running"), starts it,
// attaches the container to the external network when one is configured,
// and lists the container.
func (d *Deployer) RestartCommand() string {
	c := d.cfg.Compose
	service := client.Quote(c.Service)
	container := client.Quote(c.Container)

	// && and || bind equally in sh, so each tolerated step is grouped or
	// its || true would swallow an earlier failure.
	parts := []string{
		"cd " + client.Quote(d.cfg.BaseDir),
		"(" + d.compose("down "+service) + " 2>/dev/null || true)",
		d.compose("up -d " + service),
	}
	if c.Network != "" {
		parts = append(parts, fmt.Sprintf("(docker network connect %s %s 2>/dev/null || true)", client.Quote(c.Network), container))
	}
	parts = append(parts, "docker ps --filter name="+container)
	return strings.Join(parts, " && ")
}

func (d *Deployer) restart(ctx context.Context) bool {
	res := d.runner.Run(ctx, d.RestartCommand())
	d.con.output(res.Stdout)
	if err := resultErr(res); err != nil {
		d.con.warn("Restart reported a problem: %v", err)
		d.log.WithError(err).Warn("restart failed")
		return false
	}
	d.con.ok("Container restarted")
	return true
}

// LogsCommand fetches the recent container logs used for diagnosis.
func (d *Deployer) LogsCommand() string {
	return fmt.Sprintf("docker logs %s --tail %d", client.Quote(d.cfg.Compose.Container), d.cfg.Health.LogTail)
}

func (d *Deployer) verify(ctx context.Context, rep *Report) {
	d.con.banner("Verification")
	d.con.heading("Testing %s...", d.cfg.Health.LocalURL)

	rep.LocalStatus = d.waitReady(ctx)
	d.con.line("Local: HTTP %s", rep.LocalStatus)

	if d.cfg.Health.PublicURL != "" {
		rep.PublicStatus = d.probe.Probe(ctx, d.cfg.Health.PublicURL)
		d.con.line("HTTPS: %s", rep.PublicStatus)
	}

	rep.Healthy = rep.LocalStatus.Is(d.cfg.Health.ExpectStatus)
	if rep.Healthy {
		fmt.Fprintln(d.con.w)
		d.con.ok("SUCCESS! Deployment complete!")
		return
	}

	fmt.Fprintln(d.con.w)
	d.con.warn("WARNING: Issues detected")
	d.con.heading("Checking container logs...")
	res := d.runner.Run(ctx, d.LogsCommand())
	rep.LogsDumped = true
	d.con.output(res.Stdout)
	d.con.output(res.Stderr)
	if res.Err != nil {
		d.log.WithError(res.Err).Warn("could not fetch container logs")
	}
}

// waitReady polls the local health endpoint through the runner until it
// answers with the expected status or the readiness timeout expires. It
// returns the last observed status.
func (d *Deployer) waitReady(ctx context.Context) health.Status {
	var last health.Status
	want := d.cfg.Health.ExpectStatus
	cmd := health.LocalCommand(d.cfg.Health.LocalURL)

	check := func() error {
		res := d.runner.Run(ctx, cmd)
		if res.Err != nil {
			last = health.Status{Err: res.Err}
			return res.Err
		}
		code, err := health.ParseStatus(res.Stdout)
		last = health.Status{Code: code, Err: err}
		if err != nil {
			return err
		}
		if code != want {
			return fmt.Errorf("local health returned %d, want %d", code, want)
		}
		return nil
	}

	r := d.cfg.Readiness
	if r.Timeout <= 0 {
		_ = check()
		return last
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Interval
	if r.MaxDelay > 0 {
		b.MaxInterval = r.MaxDelay
	}
	b.MaxElapsedTime = r.Timeout

	notify := func(err error, next time.Duration) {
		d.log.WithError(err).WithField("retry_in", next).Debug("container not ready")
	}
	if err := backoff.RetryNotify(check, backoff.WithContext(b, ctx), notify); err != nil {
		d.log.WithError(err).Warn("container did not become ready in time")
	}
	return last
}

func (d *Deployer) summary() {
	d.con.banner("Deployment Complete!")
	for _, l := range d.cfg.Links {
		d.con.link(l.Label, l.URL)
	}
	if len(d.cfg.Links) > 0 {
		fmt.Fprintln(d.con.w)
	}
}

func resultErr(res client.Result) error {
	if res.Err != nil {
		return res.Err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			return fmt.Errorf("exit status %d", res.ExitCode)
		}
		return fmt.Errorf("exit status %d: %s", res.ExitCode, msg)
	}
	return nil
}
