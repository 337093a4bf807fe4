package siser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Reader reads blocks written by Writer
type Reader struct {
	r *bufio.Reader

	// set if data was written with Writer.NoTimestamp
	NoTimestamp bool

	// valid after ReadNext() returns true, until the next ReadNext()
	Data      []byte
	Name      string
	Timestamp time.Time

	err  error
	done bool
}

func NewReader(r *bufio.Reader) *Reader {
	return &Reader{
		r: r,
	}
}

func (r *Reader) badHeader(hdr []byte) bool {
	r.err = fmt.Errorf("unexpected header '%s'", string(bytes.TrimSpace(hdr)))
	return false
}

// ReadNext reads the next block. Returns false at the end of data
// or on error, check Err()
func (r *Reader) ReadNext() bool {
	if r.err != nil || r.done {
		return false
	}
	r.Name = ""
	r.Timestamp = time.Time{}

	hdr, err := r.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(hdr) == 0 {
			r.done = true
		} else if err == io.EOF {
			r.err = io.ErrUnexpectedEOF
		} else {
			r.err = err
		}
		return false
	}
	if !bytes.HasPrefix(hdr, hdrPrefix) {
		return r.badHeader(hdr)
	}
	// "<size> <timestamp> <name>" or, with NoTimestamp, "<size> <name>"
	rest := string(hdr[len(hdrPrefix) : len(hdr)-1])
	sizeStr, rest, _ := strings.Cut(rest, " ")
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 0 {
		return r.badHeader(hdr)
	}
	if !r.NoTimestamp {
		var tsStr string
		tsStr, rest, _ = strings.Cut(rest, " ")
		ms, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return r.badHeader(hdr)
		}
		r.Timestamp = time.UnixMilli(ms)
	}
	r.Name = rest

	if cap(r.Data) < size || cap(r.Data) > 1024*1024 {
		r.Data = make([]byte, size)
	}
	r.Data = r.Data[:size]
	if _, err = io.ReadFull(r.r, r.Data); err != nil {
		r.err = err
		return false
	}
	// Writer adds '\n' after data that doesn't end with one
	if size > 0 && r.Data[size-1] != '\n' {
		if _, err = r.r.Discard(1); err != nil {
			r.err = err
			return false
		}
	}
	return true
}

// Err returns the error that stopped ReadNext(), io.EOF is not an error
func (r *Reader) Err() error {
	return r.err
}

