package kvfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/kjk/kvfile/atomicfile"
)

// Options changes how a Database is loaded and reports what it does.
// nil *Options is the same as zero value.
type Options struct {
	// if true, a key on more than one line is an error instead of
	// last line winning
	StrictDuplicates bool
	// called after Open and Flush, e.g. with log.EventWithDuration
	OnEvent func(name string, dur time.Duration, vals ...any)
}

// Database is an in-memory map loaded from and flushed to a single
// text file.
// It's not safe for concurrent use and only one Database should
// use a given path at a time.
type Database struct {
	path  string
	store map[string]string
	opts  Options
}

// Open reads the whole file at path. The file must exist.
// A malformed line fails Open and no Database is returned.
func Open(path string) (*Database, error) {
	return OpenWithOptions(path, nil)
}

func OpenWithOptions(path string, opts *Options) (*Database, error) {
	timeStart := time.Now()
	db := &Database{
		path: path,
	}
	if opts != nil {
		db.opts = *opts
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}
	db.store, err = parse(d, db.opts.StrictDuplicates)
	if err != nil {
		var re *RecordError
		if errors.As(err, &re) {
			re.Path = path
		}
		return nil, fmt.Errorf("open failed: %w", err)
	}
	db.event("kvfile.open", time.Since(timeStart), "path", path, "records", len(db.store), "size", len(d))
	return db, nil
}

func (db *Database) event(name string, dur time.Duration, vals ...any) {
	if db.opts.OnEvent != nil {
		db.opts.OnEvent(name, dur, vals...)
	}
}

// Path returns the backing file path
func (db *Database) Path() string {
	return db.path
}

// Len returns number of entries
func (db *Database) Len() int {
	return len(db.store)
}

// Query returns value for key and false if there's no such key
func (db *Database) Query(key string) (string, bool) {
	v, ok := db.store[key]
	return v, ok
}

// Insert sets key to value, replacing existing value.
// Only changes memory, call Flush to persist.
func (db *Database) Insert(key, value string) error {
	if err := ValidateRecord(key, value); err != nil {
		return err
	}
	db.store[key] = value
	return nil
}

// Delete removes key and returns false if it wasn't there
func (db *Database) Delete(key string) bool {
	_, ok := db.store[key]
	delete(db.store, key)
	return ok
}

// Keys returns all keys, sorted
func (db *Database) Keys() []string {
	return sortedKeys(db.store)
}

// Map returns a copy of all entries
func (db *Database) Map() map[string]string {
	res := make(map[string]string, len(db.store))
	for k, v := range db.store {
		res[k] = v
	}
	return res
}

// WriteTo writes the same bytes Flush writes to the file
func (db *Database) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(Marshal(db.store))
	return int64(n), err
}

// Flush replaces content of the file with all entries.
// The new content is written to a temporary file which is then renamed
// over the old file, so a failed Flush leaves the old file intact.
func (db *Database) Flush() error {
	timeStart := time.Now()
	perm := fs.FileMode(0644)
	if st, err := os.Stat(db.path); err == nil {
		perm = st.Mode().Perm()
	}
	f, err := atomicfile.NewWithMode(db.path, perm)
	if err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	defer f.RemoveIfNotClosed()

	n, err := db.WriteTo(f)
	if err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	db.event("kvfile.flush", time.Since(timeStart), "path", db.path, "records", len(db.store), "size", n)
	return nil
}
