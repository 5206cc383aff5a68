package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755

	_backupTimeLayout = "20060102-150405"
)

// rotatingFile is an append-only file that is renamed to a timestamped backup
// once it would grow past splitBytes. Not safe for concurrent use.
type rotatingFile struct {
	path       string
	splitBytes int64
	maxBackups int
	fd         *os.File
	size       int64
	now        func() time.Time
}

func newRotatingFile(path string, splitMB, maxBackups int) *rotatingFile {
	return &rotatingFile{
		path:       path,
		splitBytes: int64(splitMB) << 20,
		maxBackups: maxBackups,
		now:        time.Now,
	}
}

func (f *rotatingFile) Write(buf []byte) (int, error) {
	if f.fd == nil {
		if err := f.open(); err != nil {
			return 0, err
		}
	}
	if f.size > 0 && f.size+int64(len(buf)) > f.splitBytes {
		if err := f.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := f.fd.Write(buf)
	f.size += int64(n)
	return n, err
}

func (f *rotatingFile) Sync() error {
	if f.fd == nil {
		return nil
	}
	return f.fd.Sync()
}

func (f *rotatingFile) Close() error {
	if f.fd == nil {
		return nil
	}
	err := f.fd.Close()
	f.fd = nil
	return err
}

func (f *rotatingFile) open() error {
	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, defaultDirMode); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	fd, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	fi, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	f.fd = fd
	f.size = fi.Size()
	return nil
}

func (f *rotatingFile) rotate() error {
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	backup, err := f.backupName()
	if err != nil {
		return err
	}
	if err := os.Rename(f.path, backup); err != nil {
		return fmt.Errorf("rename log file: %w", err)
	}
	if err := f.prune(); err != nil {
		return err
	}
	return f.open()
}

// backupName appends the rotation time, and a counter when several
// rotations happen within one second.
func (f *rotatingFile) backupName() (string, error) {
	base := f.path + "." + f.now().Format(_backupTimeLayout)
	name := base
	for i := 1; i < 1000; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			return name, nil
		} else if err != nil {
			return "", fmt.Errorf("stat backup: %w", err)
		}
		name = fmt.Sprintf("%s.%03d", base, i)
	}
	return "", fmt.Errorf("no free backup name for %s", f.path)
}

// prune removes the oldest backups beyond maxBackups.
func (f *rotatingFile) prune() error {
	if f.maxBackups <= 0 {
		return nil
	}
	backups, err := filepath.Glob(f.path + ".*")
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	if len(backups) <= f.maxBackups {
		return nil
	}
	sort.Strings(backups)
	for _, name := range backups[:len(backups)-f.maxBackups] {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove backup: %w", err)
		}
	}
	return nil
}
