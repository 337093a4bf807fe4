package u

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/kjk/kvfile/atomicfile"
)

// CompressionExt returns normalized compression extension of path:
// ".gz", ".bz2", ".br", ".zst" or "" if not compressed
func CompressionExt(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".gz", ".bz2", ".br", ".zst":
		return ext
	case ".zstd":
		return ".zst"
	}
	return ""
}

type readCloser struct {
	r     io.Reader
	close func() error
}

func (rc *readCloser) Read(p []byte) (int, error) {
	return rc.r.Read(p)
}

func (rc *readCloser) Close() error {
	return rc.close()
}

// NewDecompressReader wraps r in a decompressor picked by
// extension of path. Close() doesn't close r.
func NewDecompressReader(r io.Reader, path string) (io.ReadCloser, error) {
	switch CompressionExt(path) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case ".bz2":
		return io.NopCloser(bzip2.NewReader(r)), nil
	case ".br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &readCloser{r: zr, close: func() error { zr.Close(); return nil }}, nil
	}
	return io.NopCloser(r), nil
}

// OpenFileMaybeCompressed opens a file that might be compressed with gzip
// or bzip2 or zstd or brotli, based on file extension
func OpenFileMaybeCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewDecompressReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &readCloser{
		r: r,
		close: func() error {
			return getErr(r.Close(), f.Close())
		},
	}, nil
}

// ReadFileMaybeCompressed reads a file and decompresses it
// if extension says it's compressed
func ReadFileMaybeCompressed(path string) ([]byte, error) {
	r, err := OpenFileMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

func zstdNewWriter(dst io.Writer) (*zstd.Encoder, error) {
	// in my tests zstd.SpeedBestCompression is much slower
	// and not much better
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
}

// NewCompressWriter wraps w in a compressor picked by extension of path.
// Close() flushes compressed data but doesn't close w.
// bzip2 can only be read, not written.
func NewCompressWriter(w io.Writer, path string) (io.WriteCloser, error) {
	switch CompressionExt(path) {
	case ".gz":
		zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		return zw, nil
	case ".br":
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	case ".zst":
		zw, err := zstdNewWriter(w)
		if err != nil {
			return nil, err
		}
		return zw, nil
	case ".bz2":
		return nil, &os.PathError{Op: "compress", Path: path, Err: os.ErrInvalid}
	}
	return nopWriteCloser{w}, nil
}

// CompressData compresses d with compression picked by extension of path
func CompressData(d []byte, path string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewCompressWriter(&buf, path)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(d)
	err = getErr(err, w.Close())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFileMaybeCompressed atomically writes d to path, compressed
// if extension of path says so
func WriteFileMaybeCompressed(path string, d []byte) error {
	f, err := atomicfile.NewWithMode(path, 0644)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()
	w, err := NewCompressWriter(f, path)
	if err != nil {
		return err
	}
	_, err = w.Write(d)
	err = getErr(err, w.Close())
	if err != nil {
		return err
	}
	return f.Close()
}

func getErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
