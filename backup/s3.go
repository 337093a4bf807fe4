package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kjk/kvfile/atomicfile"
)

type S3Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	// use http instead of https, for local minio
	Insecure     bool
	RequestTrace io.Writer
}

// S3ConfigFromEnv reads KVSTORE_S3_* environment variables.
// Returns nil if KVSTORE_S3_BUCKET is not set.
func S3ConfigFromEnv() *S3Config {
	bucket := os.Getenv("KVSTORE_S3_BUCKET")
	if bucket == "" {
		return nil
	}
	insecure := strings.ToLower(os.Getenv("KVSTORE_S3_INSECURE"))
	return &S3Config{
		Access:   os.Getenv("KVSTORE_S3_ACCESS"),
		Secret:   os.Getenv("KVSTORE_S3_SECRET"),
		Bucket:   bucket,
		Endpoint: os.Getenv("KVSTORE_S3_ENDPOINT"),
		Region:   os.Getenv("KVSTORE_S3_REGION"),
		Insecure: insecure == "1" || insecure == "true",
	}
}

func (c *S3Config) validate() error {
	if c == nil {
		return ErrNoConfig
	}
	if c.Access == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
		return fmt.Errorf("%w: s3 needs access, secret, bucket and endpoint", ErrNoConfig)
	}
	return nil
}

type S3Client struct {
	Client *minio.Client
	Bucket string
}

// NewS3 connects and checks the bucket exists
func NewS3(ctx context.Context, config *S3Config) (*S3Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Access, config.Secret, ""),
		Region: config.Region,
		Secure: !config.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if config.RequestTrace != nil {
		mc.TraceOn(config.RequestTrace)
	}
	found, err := mc.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", config.Bucket)
	}
	return &S3Client{
		Client: mc,
		Bucket: config.Bucket,
	}, nil
}

// Upload stores snapshot as remotePath, compressed by its extension
func (c *S3Client) Upload(ctx context.Context, remotePath string, snap Snapshot) (minio.UploadInfo, error) {
	d, err := compressSnapshot(snap, remotePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	opts := minio.PutObjectOptions{
		ContentType: contentTypeForPath(remotePath),
	}
	r := bytes.NewReader(d)
	return c.Client.PutObject(ctx, c.Bucket, remotePath, r, int64(len(d)), opts)
}

// Exists returns true if remotePath is in the bucket
func (c *S3Client) Exists(ctx context.Context, remotePath string) bool {
	_, err := c.Client.StatObject(ctx, c.Bucket, remotePath, minio.StatObjectOptions{})
	return err == nil
}

// Download saves remotePath as dstPath without decompressing it
func (c *S3Client) Download(ctx context.Context, remotePath string, dstPath string) error {
	obj, err := c.Client.GetObject(ctx, c.Bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	if err = os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	f, err := atomicfile.NewWithMode(dstPath, 0644)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()
	if _, err = io.Copy(f, obj); err != nil {
		return err
	}
	return f.Close()
}

// Restore downloads remotePath and restores dstPath from it, see Restore
func (c *S3Client) Restore(ctx context.Context, remotePath string, dstPath string) (int, error) {
	dir, err := os.MkdirTemp("", "kvstore-restore-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	// keep the extension, it decides decompression
	tmpPath := filepath.Join(dir, path.Base(remotePath))
	if err = c.Download(ctx, remotePath, tmpPath); err != nil {
		return 0, fmt.Errorf("download of '%s' failed: %w", remotePath, err)
	}
	return Restore(tmpPath, dstPath)
}
