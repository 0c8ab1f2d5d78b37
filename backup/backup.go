// Package backup keeps a timestamped copy of a file before it gets
// overwritten.
package backup

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var log = logging.MustGetLogger("log")

const (
	// TimestampLayout formats the backup suffix down to the second.
	TimestampLayout = "20060102_150405"
	Suffix          = ".backup_"

	dirPerm = 0755
)

// FS is the part of billy.Filesystem the backup and the generator use.
type FS interface {
	billy.Basic
	billy.Dir
}

// hostFS serves paths verbatim from the os filesystem, relative paths
// resolving against the working directory.
type hostFS struct {
	FS
}

var _ billy.Change = hostFS{}

// OpenFile fails when the parent of name is missing instead of creating it,
// the way os.OpenFile does.
func (fs hostFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&os.O_CREATE != 0 {
		if _, err := os.Stat(filepath.Dir(name)); err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
	}
	return fs.FS.OpenFile(name, flag, perm)
}

func (hostFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(name, mode)
}

func (hostFS) Lchown(name string, uid, gid int) error {
	return os.Lchown(name, uid, gid)
}

func (hostFS) Chown(name string, uid, gid int) error {
	return os.Chown(name, uid, gid)
}

func (hostFS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}

// Host returns the os filesystem.
func Host() FS {
	return hostFS{FS: osfs.Default}
}

// Backuper copies files into a backup directory.
type Backuper struct {
	fs  FS
	now func() time.Time
}

type Option func(*Backuper)

// WithClock replaces time.Now as the source of backup timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backuper) {
		b.now = now
	}
}

func NewBackuper(fs FS, opts ...Option) *Backuper {
	b := &Backuper{
		fs:  fs,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the name of the backup of filename taken at t.
func Name(filename string, t time.Time) string {
	return filepath.Base(filename) + Suffix + t.Format(TimestampLayout)
}

// BackupExistingFile copies path into dir, creating dir if needed, and
// returns the path of the copy. When path does not exist nothing is done
// and the returned path is empty.
//
// Two backups of the same file within one second share a name; the later
// one overwrites the earlier.
func (b *Backuper) BackupExistingFile(path, dir string) (string, error) {
	info, err := b.fs.Stat(path)
	if os.IsNotExist(err) {
		log.Debugf("action: backup | result: skipped | path: %s", path)
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "couldn't stat %s", path)
	}
	if info.IsDir() {
		return "", errors.Errorf("couldn't back up %s: is a directory", path)
	}

	if err := b.fs.MkdirAll(dir, dirPerm); err != nil {
		return "", errors.Wrapf(err, "couldn't create backup directory %s", dir)
	}

	dst := b.fs.Join(dir, Name(path, b.now()))
	if err := b.copyFile(path, dst, info); err != nil {
		return "", err
	}
	if err := b.copyMetadata(dst, info); err != nil {
		return "", err
	}

	log.Infof("action: backup | result: success | path: %s | backup: %s", path, dst)
	return dst, nil
}

func (b *Backuper) copyFile(src, dst string, info os.FileInfo) error {
	in, err := b.fs.Open(src)
	if err != nil {
		return errors.Wrapf(err, "couldn't open %s", src)
	}
	defer func() {
		if err := in.Close(); err != nil {
			log.Warningf("action: close | result: fail | path: %s | error: %s", src, err)
		}
	}()

	out, err := b.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, "couldn't create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "couldn't copy %s to %s", src, dst)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "couldn't close %s", dst)
	}
	return nil
}

// copyMetadata carries mode and modification time over to dst when the
// filesystem supports it.
func (b *Backuper) copyMetadata(dst string, info os.FileInfo) error {
	ch, ok := b.fs.(billy.Change)
	if !ok {
		log.Debugf("action: copy_metadata | result: skipped | path: %s", dst)
		return nil
	}
	if err := ch.Chmod(dst, info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "couldn't set mode of %s", dst)
	}
	if err := ch.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return errors.Wrapf(err, "couldn't set times of %s", dst)
	}
	return nil
}
