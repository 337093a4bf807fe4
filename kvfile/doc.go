/*
Package kvfile is a persistent key-value store kept in a single text file.

The whole file is read into memory by Open(). Query(), Insert() and Delete()
work on memory only. Flush() writes everything back.

# File format

One record per line:

	<key>\t<value>

Lines are separated by '\n', the last line doesn't need a terminator and an
empty file is an empty store. Keys and values can't contain '\t', '\r'
or '\n'; Insert() rejects them with ErrInvalidRecord.

A "\r\n" terminator is accepted as a line break. A line that doesn't split
into exactly 2 fields, or has any other '\r', makes Open() fail with
ErrMalformedRecord. Open() never returns a partially loaded Database, so
a following Flush() can't drop data it didn't read.

If a key is on more than one line, the last line wins. Use
Options.StrictDuplicates to make it an error.

# Flushing

Flush() writes a temporary file and renames it over the database file
(see package atomicfile). Records are written sorted by key, but order
has no meaning and can change between versions.
*/
package kvfile
