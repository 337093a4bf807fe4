package kvfile

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Delimiter separates key from value in a record line
const Delimiter = '\t'

var (
	// ErrMalformedRecord means a line in the file doesn't have exactly
	// two tab-separated fields
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInvalidRecord means key or value can't be stored because
	// it contains a tab or a newline
	ErrInvalidRecord = errors.New("invalid record")
	// ErrDuplicateKey is returned by strict loading when
	// a key shows up on more than one line
	ErrDuplicateKey = errors.New("duplicate key")
)

// RecordError describes a record that couldn't be parsed or stored.
// Err is one of ErrMalformedRecord, ErrInvalidRecord, ErrDuplicateKey.
type RecordError struct {
	Path string
	// 1-based line number, 0 if not from a file
	Line int
	// number of fields after splitting on Delimiter
	Fields int
	Key    string
	Err    error
}

func (e *RecordError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(":")
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "%d: ", e.Line)
	} else if e.Path != "" {
		sb.WriteString(" ")
	}
	sb.WriteString(e.Err.Error())
	switch {
	case errors.Is(e.Err, ErrMalformedRecord) && e.Fields == 2:
		sb.WriteString(": unexpected carriage return")
	case errors.Is(e.Err, ErrMalformedRecord):
		fmt.Fprintf(&sb, ": expected 2 fields, got %d", e.Fields)
	case errors.Is(e.Err, ErrDuplicateKey):
		fmt.Fprintf(&sb, " %q", e.Key)
	case errors.Is(e.Err, ErrInvalidRecord):
		sb.WriteString(": key and value can't contain tab or newline")
	}
	return sb.String()
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// ValidateRecord returns an error if key or value would break
// the line-oriented file format
func ValidateRecord(key, value string) error {
	if strings.ContainsAny(key, "\t\r\n") || strings.ContainsAny(value, "\t\r\n") {
		return &RecordError{Key: key, Err: ErrInvalidRecord}
	}
	return nil
}

// splitLines splits on '\n', strips one '\r' from a "\r\n" terminator
// and doesn't return an empty line after a final terminator
func splitLines(d []byte) [][]byte {
	if len(d) == 0 {
		return nil
	}
	lines := bytes.Split(d, []byte{'\n'})
	last := len(lines) - 1
	if len(lines[last]) == 0 {
		lines = lines[:last]
	}
	// lines[last], if still there, is not terminated
	for i := 0; i < last; i++ {
		lines[i] = bytes.TrimSuffix(lines[i], []byte{'\r'})
	}
	return lines
}

func parse(d []byte, strict bool) (map[string]string, error) {
	lines := splitLines(d)
	m := make(map[string]string, len(lines))
	for i, line := range lines {
		fields := bytes.Split(line, []byte{Delimiter})
		if len(fields) != 2 {
			return nil, &RecordError{Line: i + 1, Fields: len(fields), Err: ErrMalformedRecord}
		}
		// Insert can't store it so Flush couldn't write it back
		if bytes.IndexByte(line, '\r') >= 0 {
			return nil, &RecordError{Line: i + 1, Fields: 2, Err: ErrMalformedRecord}
		}
		k := string(fields[0])
		if _, dup := m[k]; dup && strict {
			return nil, &RecordError{Line: i + 1, Fields: 2, Key: k, Err: ErrDuplicateKey}
		}
		// later lines win
		m[k] = string(fields[1])
	}
	return m, nil
}

// Parse decodes file content into a map.
// Any malformed line fails the whole parse. Duplicate keys resolve
// to the value on the last line.
func Parse(d []byte) (map[string]string, error) {
	return parse(d, false)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendRecord(d []byte, key, value string) []byte {
	d = append(d, key...)
	d = append(d, Delimiter)
	return append(d, value...)
}

// Marshal encodes m as one "key\tvalue" line per entry, lines joined
// with '\n' and no trailing newline.
// Entries are sorted by key so the output is deterministic.
func Marshal(m map[string]string) []byte {
	keys := sortedKeys(m)
	n := 0
	for _, k := range keys {
		n += len(k) + len(m[k]) + 2
	}
	d := make([]byte, 0, n)
	for i, k := range keys {
		if i > 0 {
			d = append(d, '\n')
		}
		d = appendRecord(d, k, m[k])
	}
	return d
}
