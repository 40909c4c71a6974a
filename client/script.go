package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/kr/fs"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
)

// ErrSizeMismatch is returned when the uploaded file does not have the size
// of its local source.
var ErrSizeMismatch = errors.New("remote size does not match local size")

const tmpSuffix = ".godeploy-tmp"

// Uploader copies a local file to a remote path.
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

func (c *Conn) files() (*sftp.Client, error) {
	if c.sftp != nil {
		return c.sftp, nil
	}
	if c.client == nil {
		return nil, fmt.Errorf("start sftp: connection closed")
	}
	fc, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("start sftp: %w", err)
	}
	c.sftp = fc
	return fc, nil
}

// Upload pushes localPath to remotePath via the SFTP subsystem. Content is
// copied byte for byte; the destination is replaced only after the full
// copy has been written and its size verified.
func (c *Conn) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fc, err := c.files()
	if err != nil {
		return err
	}
	return sftpUpload(ctx, fc, localPath, remotePath, c.log)
}

func sftpUpload(ctx context.Context, fc *sftp.Client, localPath, remotePath string, log *logrus.Entry) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}

	if err := fc.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("create remote dir: %w", err)
	}

	tmp := remotePath + tmpSuffix
	dst, err := fc.Create(tmp)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}

	n, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src})
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fc.Remove(tmp)
		return fmt.Errorf("copy file: %w", err)
	}

	st, err := fc.Stat(tmp)
	if err != nil {
		_ = fc.Remove(tmp)
		return fmt.Errorf("stat remote file: %w", err)
	}
	if st.Size() != info.Size() || n != info.Size() {
		_ = fc.Remove(tmp)
		return fmt.Errorf("%s: %w (local %d, remote %d)", remotePath, ErrSizeMismatch, info.Size(), st.Size())
	}

	if err := fc.Chmod(tmp, info.Mode().Perm()); err != nil {
		log.WithError(err).WithField("path", remotePath).Warn("could not set remote file mode")
	}

	if err := replace(fc, tmp, remotePath); err != nil {
		_ = fc.Remove(tmp)
		return fmt.Errorf("rename remote file: %w", err)
	}

	log.WithFields(logrus.Fields{"local": localPath, "remote": remotePath, "bytes": n}).Debug("uploaded")
	return nil
}

// replace moves tmp over dst. Servers without the posix-rename extension
// refuse to rename onto an existing file, so the old file is removed first.
func replace(fc *sftp.Client, tmp, dst string) error {
	if err := fc.PosixRename(tmp, dst); err == nil {
		return nil
	}
	if err := fc.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return fc.Rename(tmp, dst)
}

// UploadTree uploads every regular file below localDir to the same relative
// location under remoteDir.
func UploadTree(ctx context.Context, up Uploader, localDir, remoteDir string) (int, error) {
	count := 0
	walker := fs.Walk(localDir)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return count, fmt.Errorf("walk %s: %w", localDir, err)
		}
		if !walker.Stat().Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(localDir, walker.Path())
		if err != nil {
			return count, err
		}
		remote := path.Join(remoteDir, filepath.ToSlash(rel))
		if err := up.Upload(ctx, walker.Path(), remote); err != nil {
			return count, fmt.Errorf("%s: %w", walker.Path(), err)
		}
		count++
	}
	return count, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
