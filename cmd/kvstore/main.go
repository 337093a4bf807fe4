package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tidwall/pretty"

	"github.com/kjk/kvfile/backup"
	"github.com/kjk/kvfile/kvfile"
	"github.com/kjk/kvfile/log"
	"github.com/kjk/kvfile/u"
)

const notFound = "KEY NOT FOUND"

// receives kvfile events, replaced in tests
var onEvent = log.EventWithDuration

type options struct {
	dbPath     string
	strict     bool
	verbose    bool
	logDir     string
	del        bool
	dump       bool
	backupPath string
	backupS3   string
	backupSFTP string
	restore    string
	restoreS3  string
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "Usage: kvstore [flags] [key] [value]\n")
	fmt.Fprintf(w, "  kvstore <key>            print value of key\n")
	fmt.Fprintf(w, "  kvstore <key> <value>    set key to value\n")
	fmt.Fprintf(w, "  kvstore -delete <key>    remove key\n")
	fmt.Fprintf(w, "  kvstore -dump            print all entries as json\n")
	fmt.Fprintf(w, "  kvstore -restore <path>  replace database with a backup\n")
	fmt.Fprintf(w, "Flags:\n")
	fs.PrintDefaults()
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, bool) {
	opts := &options{}
	fs := flag.NewFlagSet("kvstore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.dbPath, "db", "kv.db", "path of database file, must exist")
	fs.BoolVar(&opts.strict, "strict", false, "fail if a key is in the file more than once")
	fs.BoolVar(&opts.verbose, "v", false, "verbose logging")
	fs.StringVar(&opts.logDir, "log-dir", "", "if set, write logs and events to daily files in this directory")
	fs.BoolVar(&opts.del, "delete", false, "delete the key")
	fs.BoolVar(&opts.dump, "dump", false, "print all entries as json")
	fs.StringVar(&opts.backupPath, "backup", "", "after flush, save a copy to this path (.gz, .br, .zst compress)")
	fs.StringVar(&opts.backupS3, "backup-s3", "", "after flush, upload a copy to this path in KVSTORE_S3_BUCKET")
	fs.StringVar(&opts.backupSFTP, "backup-sftp", "", "after flush, upload a copy to this path on KVSTORE_SFTP_HOST")
	fs.StringVar(&opts.restore, "restore", "", "replace database with entries from this backup file")
	fs.StringVar(&opts.restoreS3, "restore-s3", "", "replace database with entries from this path in KVSTORE_S3_BUCKET")
	fs.Usage = func() { usage(fs, stderr) }
	if err := fs.Parse(args); err != nil {
		return nil, nil, false
	}
	rest := fs.Args()
	ok := len(rest) == 1 || len(rest) == 2
	if opts.del {
		ok = len(rest) == 1
	}
	if opts.dump {
		ok = len(rest) == 0 && !opts.del
	}
	if opts.restore != "" || opts.restoreS3 != "" {
		ok = len(rest) == 0 && !opts.del && !opts.dump && (opts.restore == "" || opts.restoreS3 == "")
	}
	if !ok {
		fs.Usage()
	}
	return opts, rest, ok
}

func dumpJSON(db *kvfile.Database, w io.Writer) error {
	d, err := json.Marshal(db.Map())
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(d))
	return err
}

func runBackups(db *kvfile.Database, opts *options) error {
	if opts.backupPath != "" {
		if err := backup.WriteFile(db, opts.backupPath); err != nil {
			return err
		}
		log.Verbosef("backup: wrote '%s' (%s)\n", opts.backupPath, u.FormatSize(u.FileSize(opts.backupPath)))
	}
	if opts.backupS3 != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		c, err := backup.NewS3(ctx, backup.S3ConfigFromEnv())
		if err != nil {
			return fmt.Errorf("s3 backup: %w", err)
		}
		info, err := c.Upload(ctx, opts.backupS3, db)
		if err != nil {
			return fmt.Errorf("s3 backup: %w", err)
		}
		if !c.Exists(ctx, opts.backupS3) {
			return fmt.Errorf("s3 backup: '%s' not in bucket '%s' after upload", opts.backupS3, c.Bucket)
		}
		log.Verbosef("backup: uploaded '%s' to bucket '%s' (%s)\n", opts.backupS3, c.Bucket, u.FormatSize(info.Size))
	}
	if opts.backupSFTP != "" {
		config, err := backup.SFTPConfigFromEnv()
		if err != nil {
			return fmt.Errorf("sftp backup: %w", err)
		}
		c, err := backup.NewSFTP(config)
		if err != nil {
			return fmt.Errorf("sftp backup: %w", err)
		}
		defer c.Close()
		if err = c.Upload(opts.backupSFTP, db); err != nil {
			return fmt.Errorf("sftp backup: %w", err)
		}
		log.Verbosef("backup: uploaded '%s' to '%s'\n", opts.backupSFTP, config.Host)
	}
	return nil
}

// runRestore replaces the database file, which doesn't have to exist
// or be valid, with a backup
func runRestore(opts *options) error {
	var n int
	var err error
	src := opts.restore
	if src != "" {
		n, err = backup.Restore(src, opts.dbPath)
	} else {
		src = opts.restoreS3
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		var c *backup.S3Client
		if c, err = backup.NewS3(ctx, backup.S3ConfigFromEnv()); err != nil {
			return fmt.Errorf("s3 restore: %w", err)
		}
		n, err = c.Restore(ctx, src, opts.dbPath)
	}
	if err != nil {
		return err
	}
	log.Verbosef("restored %d records from '%s' to '%s'\n", n, src, opts.dbPath)
	return nil
}

// run returns process exit code
func run(args []string, stdout, stderr io.Writer) int {
	opts, rest, ok := parseFlags(args, stderr)
	if !ok {
		return 2
	}
	log.Init(&log.Config{
		Dir:    opts.logDir,
		Output: stderr,
	})
	defer log.Close()
	log.Verbose = opts.verbose

	if opts.restore != "" || opts.restoreS3 != "" {
		if log.IfErrf(runRestore(opts)) {
			return 1
		}
		return 0
	}

	timeStart := time.Now()
	db, err := kvfile.OpenWithOptions(opts.dbPath, &kvfile.Options{
		StrictDuplicates: opts.strict,
		OnEvent:          onEvent,
	})
	if err != nil {
		log.Logf("Failed to read database: %s\n", err)
		return 1
	}
	log.Verbosef("opened '%s', %d records in %s\n", opts.dbPath, db.Len(), u.FormatDuration(time.Since(timeStart)))

	switch {
	case opts.dump:
		if log.IfErrf(dumpJSON(db, stdout)) {
			return 1
		}
		// read-only, nothing to flush
		return 0
	case opts.del:
		if !db.Delete(rest[0]) {
			fmt.Fprintln(stdout, notFound)
		}
	case len(rest) == 1:
		if v, ok := db.Query(rest[0]); ok {
			fmt.Fprintln(stdout, v)
		} else {
			fmt.Fprintln(stdout, notFound)
		}
	default:
		if err = db.Insert(rest[0], rest[1]); err != nil {
			log.Logf("%s\n", err)
			return 1
		}
	}

	timeStart = time.Now()
	if log.IfErrf(db.Flush()) {
		return 1
	}
	log.Verbosef("flushed %d records to '%s' in %s\n", db.Len(), opts.dbPath, u.FormatDuration(time.Since(timeStart)))

	if log.IfErrf(runBackups(db, opts)) {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
