package deploy

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"godeploy/client"
	"godeploy/health"
)

var errDryRun = errors.New("dry run: not probed")

// DryRun stands in for the SSH connection and the HTTP prober. It logs what
// would happen and reports every command as successful with no output.
type DryRun struct {
	Log *logrus.Entry
}

func (d DryRun) Run(_ context.Context, command string) client.Result {
	d.Log.WithField("cmd", command).Info("dry run: would execute")
	return client.Result{Command: command}
}

func (d DryRun) Upload(_ context.Context, localPath, remotePath string) error {
	d.Log.WithFields(logrus.Fields{"local": localPath, "remote": remotePath}).Info("dry run: would upload")
	return nil
}

func (d DryRun) Probe(_ context.Context, url string) health.Status {
	d.Log.WithField("url", url).Info("dry run: would probe")
	return health.Status{Err: errDryRun}
}
