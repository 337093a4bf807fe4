// Package backup saves copies of a database snapshot to a local file,
// S3-compatible storage or a server reachable over SFTP.
//
// Snapshots are compressed based on the extension of the destination
// path: .gz, .br, .zst (or .zstd). Other extensions store the snapshot
// as is.
package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/kjk/kvfile/atomicfile"
	"github.com/kjk/kvfile/kvfile"
	"github.com/kjk/kvfile/u"
)

// ErrNoConfig is returned when required connection settings are missing
var ErrNoConfig = errors.New("missing backup configuration")

// Snapshot is what can be backed up. *kvfile.Database implements it.
type Snapshot interface {
	WriteTo(w io.Writer) (int64, error)
}

var _ Snapshot = &kvfile.Database{}

// compressSnapshot returns snapshot data compressed for path
func compressSnapshot(snap Snapshot, path string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := u.NewCompressWriter(&buf, path)
	if err != nil {
		return nil, err
	}
	if _, err = snap.WriteTo(w); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile atomically writes snapshot to a local path
func WriteFile(snap Snapshot, path string) error {
	var buf bytes.Buffer
	if _, err := snap.WriteTo(&buf); err != nil {
		return err
	}
	if err := u.WriteFileMaybeCompressed(path, buf.Bytes()); err != nil {
		return fmt.Errorf("backup to '%s' failed: %w", path, err)
	}
	return nil
}

// ReadFile reads a backup written by WriteFile and parses it.
// Used to verify a backup or to restore from it.
func ReadFile(path string) (map[string]string, error) {
	d, err := u.ReadFileMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	m, err := kvfile.Parse(d)
	if err != nil {
		return nil, fmt.Errorf("backup '%s': %w", path, err)
	}
	return m, nil
}

// Restore replaces the database file at dstPath with entries from the
// backup at srcPath and returns the number of entries.
// The backup is parsed first so a corrupt backup doesn't change dstPath.
func Restore(srcPath, dstPath string) (int, error) {
	m, err := ReadFile(srcPath)
	if err != nil {
		return 0, err
	}
	perm := fs.FileMode(0644)
	if st, err := os.Stat(dstPath); err == nil {
		perm = st.Mode().Perm()
	}
	if err = atomicfile.WriteFile(dstPath, kvfile.Marshal(m), perm); err != nil {
		return 0, fmt.Errorf("restore to '%s' failed: %w", dstPath, err)
	}
	return len(m), nil
}

func contentTypeForPath(path string) string {
	switch u.CompressionExt(path) {
	case ".gz":
		return "application/gzip"
	case ".br":
		return "application/x-brotli"
	case ".zst":
		return "application/zstd"
	}
	return "text/tab-separated-values; charset=utf-8"
}
