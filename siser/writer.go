package siser

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"
)

var hdrPrefix = []byte("--- ")

// Writer writes framed blocks of data, e.g. events, to w
type Writer struct {
	w io.Writer
	// if true, the timestamp is not written
	NoTimestamp bool

	buf bytes.Buffer
	mu  sync.Mutex
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
	}
}

// Write writes d with its name and timestamp t (time.Now() if zero).
// Returns number of bytes written, including the header.
func (w *Writer) Write(d []byte, t time.Time, name string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// don't hold on to a big buffer after a one-off big write
	if w.buf.Cap() > 100*1024 && len(d) < 50*1024 {
		w.buf = bytes.Buffer{}
	}
	if w.NoTimestamp {
		t = time.Time{}
	} else if t.IsZero() {
		t = time.Now()
	}
	return w.w.Write(MarshalLine(name, t, d, &w.buf))
}

// MarshalLine formats a block as:
// --- <len(d)> <unix ms> <name>\n<d>\n
// Timestamp is skipped if t is zero and name if empty.
// The final '\n' is only added if d doesn't end with one.
// If wb is given, it's reset and the result is built in it.
func MarshalLine(name string, t time.Time, d []byte, wb *bytes.Buffer) []byte {
	if wb == nil {
		wb = &bytes.Buffer{}
	} else {
		wb.Reset()
	}
	n := len(d)
	wb.Grow(len(hdrPrefix) + len(name) + n + 32)
	wb.Write(hdrPrefix)
	wb.WriteString(strconv.Itoa(n))
	if !t.IsZero() {
		wb.WriteByte(' ')
		wb.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
	}
	if name != "" {
		wb.WriteByte(' ')
		wb.WriteString(name)
	}
	wb.WriteByte('\n')
	if n > 0 {
		wb.Write(d)
		if d[n-1] != '\n' {
			wb.WriteByte('\n')
		}
	}
	return wb.Bytes()
}
