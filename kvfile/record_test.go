package kvfile

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		m   map[string]string
		exp string
	}{
		{nil, ""},
		{map[string]string{}, ""},
		{map[string]string{"a": "1"}, "a\t1"},
		{map[string]string{"b": "2", "a": "1"}, "a\t1\nb\t2"},
		{map[string]string{"": ""}, "\t"},
		{map[string]string{"k": "", "": "v"}, "\tv\nk\t"},
	}
	for _, test := range tests {
		got := string(Marshal(test.m))
		assert.Equal(t, test.exp, got)
		m, err := Parse([]byte(got))
		assert.NoError(t, err)
		assert.Equal(t, len(test.m), len(m))
		for k, v := range test.m {
			assert.Equal(t, v, m[k])
		}
	}
}

func TestValidateRecord(t *testing.T) {
	valid := [][]string{
		{"", ""},
		{"key", "value with spaces"},
		{"ключ", "значение"},
	}
	for _, kv := range valid {
		assert.NoError(t, ValidateRecord(kv[0], kv[1]))
	}
	invalid := [][]string{
		{"a\tb", ""},
		{"", "\t"},
		{"a\nb", "v"},
		{"k", "\r\n"},
	}
	for _, kv := range invalid {
		err := ValidateRecord(kv[0], kv[1])
		assert.True(t, errors.Is(err, ErrInvalidRecord), "ValidateRecord(%q, %q)", kv[0], kv[1])
	}
}

func TestRecordErrorMessage(t *testing.T) {
	tests := []struct {
		err *RecordError
		exp string
	}{
		{
			&RecordError{Path: "kv.db", Line: 3, Fields: 1, Err: ErrMalformedRecord},
			"kv.db:3: malformed record: expected 2 fields, got 1",
		},
		{
			&RecordError{Path: "kv.db", Line: 1, Fields: 2, Err: ErrMalformedRecord},
			"kv.db:1: malformed record: unexpected carriage return",
		},
		{
			&RecordError{Line: 2, Fields: 2, Key: "a", Err: ErrDuplicateKey},
			`2: duplicate key "a"`,
		},
		{
			&RecordError{Key: "a\tb", Err: ErrInvalidRecord},
			"invalid record: key and value can't contain tab or newline",
		},
		{
			&RecordError{Path: "kv.db", Err: ErrInvalidRecord},
			"kv.db: invalid record: key and value can't contain tab or newline",
		},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, test.err.Error())
	}
}

func TestParseIsAtomic(t *testing.T) {
	m, err := Parse([]byte("good\tline\nbad line"))
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, ErrMalformedRecord))
}
