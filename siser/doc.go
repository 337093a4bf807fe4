// Package siser writes and reads a simple framed format for
// blocks of data such as log events. Each block is:
//
//	--- <len> <unix ms> <name>\n<data>\n
//
// The header is human readable and the length makes it possible to
// store data that contains newlines or looks like a header.
package siser
