package atomicfile

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"
)

var (
	// ErrCancelled is returned by calls after RemoveIfNotClosed()
	ErrCancelled = errors.New("cancelled")

	_ io.WriteCloser = &File{}
	_ io.StringWriter = &File{}
)

// File writes to a temporary file in the directory of the destination
// and renames it over the destination on Close.
// If any step fails the temporary file is removed and the destination
// is left as it was.
type File struct {
	dstPath string
	dir     string
	tmp     *os.File
	tmpPath string
	// first error we saw, sticky
	err error
}

// New creates a File that will replace path on Close.
// The file is created with os.CreateTemp permissions (0600).
func New(path string) (*File, error) {
	return NewWithMode(path, 0)
}

// NewWithMode is like New but the final file gets perm permissions.
// perm of 0 keeps os.CreateTemp default.
func NewWithMode(path string, perm fs.FileMode) (*File, error) {
	dir, name := filepath.Split(path)
	if name == "" {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	// must be on the same file system as dstPath for rename
	tmp, err := os.CreateTemp(dir, tempPattern(name))
	if err != nil {
		return nil, err
	}
	f := &File{
		dstPath: path,
		dir:     dir,
		tmp:     tmp,
		tmpPath: tmp.Name(),
	}
	if perm != 0 {
		if err = tmp.Chmod(perm); err != nil {
			f.fail(err)
			return nil, err
		}
	}
	return f, nil
}

// names are usually limited to 255 bytes and os.CreateTemp adds
// the "." prefix, ".tmp" and up to 10 random digits
const maxTempPrefix = 200

func tempPattern(name string) string {
	if len(name) > maxTempPrefix {
		name = name[:maxTempPrefix]
		for len(name) > 0 && !utf8.ValidString(name) {
			name = name[:len(name)-1]
		}
	}
	return "." + name + ".tmp*"
}

// TempPath returns path of the temporary file
func (f *File) TempPath() string {
	return f.tmpPath
}

func (f *File) fail(err error) error {
	if err == nil {
		return nil
	}
	if f.err == nil {
		f.err = err
	}
	_ = f.Close()
	return err
}

func (f *File) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmp.Write(d)
	return n, f.fail(err)
}

func (f *File) WriteString(s string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmp.WriteString(s)
	return n, f.fail(err)
}

func (f *File) closed() bool {
	return f.tmp == nil
}

// RemoveIfNotClosed deletes the temporary file unless Close was already
// called. Destination is not touched.
// Meant to be deferred so that a panic before Close doesn't leave
// a half-written file behind.
func (f *File) RemoveIfNotClosed() {
	if f == nil || f.closed() {
		return
	}
	f.err = ErrCancelled
	_ = f.Close()
}

// Close syncs and closes the temporary file and renames it to destination.
// Safe to call multiple times, returns the first error.
func (f *File) Close() error {
	if f.closed() {
		return f.err
	}
	tmp := f.tmp
	f.tmp = nil

	// https://www.joeshaw.org/dont-defer-close-on-writable-files/
	errSync := tmp.Sync()
	errClose := tmp.Close()

	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(f.tmpPath)
		}
	}()

	if f.err != nil {
		return f.err
	}
	err := errSync
	if err == nil {
		err = errClose
	}
	if err == nil {
		err = os.Rename(f.tmpPath, f.dstPath)
		renamed = err == nil
	}
	if renamed {
		syncDir(f.dir)
	}
	f.err = err
	return err
}

// persist the rename. errors are ignored, not all platforms can sync a dir
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// WriteFile is an atomic equivalent of os.WriteFile
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	f, err := NewWithMode(path, perm)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()
	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Close()
}
