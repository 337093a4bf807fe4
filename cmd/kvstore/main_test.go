package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"

	"github.com/kjk/kvfile/backup"
	"github.com/kjk/kvfile/log"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runKV(args ...string) result {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return result{code, stdout.String(), stderr.String()}
}

func newDBFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "kv.db")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func fileContent(t *testing.T, path string) string {
	d, err := os.ReadFile(path)
	assert.NoError(t, err)
	return string(d)
}

func TestQueryAndInsert(t *testing.T) {
	path := newDBFile(t, "alice\t30\nbob\t25")

	r := runKV("-db", path, "alice")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "30\n", r.stdout)

	r = runKV("-db", path, "alice", "31")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "", r.stdout)

	r = runKV("-db", path, "alice")
	assert.Equal(t, "31\n", r.stdout)
	r = runKV("-db", path, "bob")
	assert.Equal(t, "25\n", r.stdout)
	r = runKV("-db", path, "carol")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, notFound+"\n", r.stdout)

	assert.Equal(t, "alice\t31\nbob\t25", fileContent(t, path))
}

func TestUsage(t *testing.T) {
	path := newDBFile(t, "")
	tests := [][]string{
		{"-db", path},
		{"-db", path, "a", "b", "c"},
		{"-db", path, "-delete"},
		{"-db", path, "-delete", "a", "b"},
		{"-db", path, "-dump", "a"},
		{"-db", path, "-restore", "kv.bak", "a"},
		{"-db", path, "-restore", "kv.bak", "-dump"},
		{"-db", path, "-restore", "kv.bak", "-restore-s3", "kv.bak"},
		{"-no-such-flag"},
	}
	for _, args := range tests {
		r := runKV(args...)
		assert.Equal(t, 2, r.code, "args: %v", args)
		assert.Contains(t, r.stderr, "Usage: kvstore")
	}
}

func TestOpenFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")
	r := runKV("-db", missing, "a", "1")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "Failed to read database")
	// not created by a failed open
	_, err := os.Stat(missing)
	assert.True(t, os.IsNotExist(err))

	content := "a\t1\nbroken line"
	path := newDBFile(t, content)
	r = runKV("-db", path, "b", "2")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "malformed record")
	// corrupt file is not overwritten
	assert.Equal(t, content, fileContent(t, path))
}

func TestInsertInvalid(t *testing.T) {
	path := newDBFile(t, "a\t1")
	r := runKV("-db", path, "b", "has\ttab")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "invalid record")
	assert.Equal(t, "a\t1", fileContent(t, path))
}

func TestStrict(t *testing.T) {
	path := newDBFile(t, "a\t1\na\t2")
	r := runKV("-db", path, "a")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "2\n", r.stdout)

	path = newDBFile(t, "a\t1\na\t2")
	r = runKV("-db", path, "-strict", "a")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "duplicate key")
	assert.Equal(t, "a\t1\na\t2", fileContent(t, path))
}

func TestFlushFailure(t *testing.T) {
	path := newDBFile(t, "a\t1")
	child := filepath.Join(path, "child")
	onEvent = func(name string, dur time.Duration, vals ...any) {
		if name == "kvfile.open" {
			// a non-empty directory can't be replaced by rename
			assert.NoError(t, os.Remove(path))
			assert.NoError(t, os.Mkdir(path, 0755))
			assert.NoError(t, os.WriteFile(child, []byte("a\t1"), 0644))
		}
	}
	t.Cleanup(func() { onEvent = log.EventWithDuration })

	r := runKV("-db", path, "b", "2")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "flush failed")
	assert.Equal(t, "a\t1", fileContent(t, child))

	// no temporary files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(entries))
}

func TestDelete(t *testing.T) {
	path := newDBFile(t, "a\t1\nb\t2")
	r := runKV("-db", path, "-delete", "a")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "", r.stdout)
	assert.Equal(t, "b\t2", fileContent(t, path))

	r = runKV("-db", path, "-delete", "a")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, notFound+"\n", r.stdout)
}

func TestDump(t *testing.T) {
	path := newDBFile(t, "b\t2\na\t1")
	r := runKV("-db", path, "-dump")
	assert.Equal(t, 0, r.code)
	var m map[string]string
	assert.NoError(t, json.Unmarshal([]byte(r.stdout), &m))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, m)
	// pretty printed
	assert.True(t, strings.Contains(r.stdout, "\n  \"a\": \"1\""), "stdout: %s", r.stdout)
	// dump doesn't rewrite the file
	assert.Equal(t, "b\t2\na\t1", fileContent(t, path))
}

func TestBackup(t *testing.T) {
	path := newDBFile(t, "a\t1")
	bak := filepath.Join(t.TempDir(), "kv.db.zst")
	r := runKV("-db", path, "-backup", bak, "b", "2")
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	m, err := backup.ReadFile(bak)
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, m)

	r = runKV("-db", path, "-backup", filepath.Join(t.TempDir(), "no", "dir", "kv.gz"), "c", "3")
	assert.Equal(t, 1, r.code)
	// the flush itself succeeded
	assert.Equal(t, "a\t1\nb\t2\nc\t3", fileContent(t, path))
}

func TestRestore(t *testing.T) {
	path := newDBFile(t, "a\t1")
	bak := filepath.Join(t.TempDir(), "kv.db.gz")
	r := runKV("-db", path, "-backup", bak, "b", "2")
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)

	// restore works on a corrupt database
	assert.NoError(t, os.WriteFile(path, []byte("broken"), 0644))
	r = runKV("-db", path, "-v", "-restore", bak)
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	assert.Contains(t, r.stderr, "restored 2 records")
	assert.Equal(t, "a\t1\nb\t2", fileContent(t, path))

	// and on a missing one
	missing := filepath.Join(t.TempDir(), "new.db")
	r = runKV("-db", missing, "-restore", bak)
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	assert.Equal(t, "a\t1\nb\t2", fileContent(t, missing))

	r = runKV("-db", path, "-restore", filepath.Join(t.TempDir(), "missing.gz"))
	assert.Equal(t, 1, r.code)
	assert.Equal(t, "a\t1\nb\t2", fileContent(t, path))
}

func TestRestoreS3NoConfig(t *testing.T) {
	t.Setenv("KVSTORE_S3_BUCKET", "")
	path := newDBFile(t, "a\t1")
	r := runKV("-db", path, "-restore-s3", "kv.db.gz")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "s3 restore: missing backup configuration")
	assert.Equal(t, "a\t1", fileContent(t, path))
}

func TestVerboseAndLogDir(t *testing.T) {
	path := newDBFile(t, "a\t1")
	logDir := t.TempDir()
	r := runKV("-db", path, "-v", "-log-dir", logDir, "a")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "1\n", r.stdout)
	assert.Contains(t, r.stderr, "opened '"+path+"'")
	assert.Contains(t, r.stderr, "event: kvfile.flush")

	entries, err := os.ReadDir(filepath.Join(logDir, "events"))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(entries))
	s := fileContent(t, filepath.Join(logDir, "events", entries[0].Name()))
	assert.Contains(t, s, " kvfile.open\n")
	assert.Contains(t, s, " kvfile.flush\n")
}
