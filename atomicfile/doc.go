/*
Package atomicfile writes files so that readers see either the old
content or the complete new content, never a partial write.

Data goes to a temporary file next to the destination. Close() syncs it
and renames it over the destination. If Write() or Close() fails, the
temporary file is removed and the destination is untouched.

	func save(path string, data []byte) error {
		f, err := atomicfile.New(path)
		if err != nil {
			return err
		}
		// a no-op after successful Close()
		defer f.RemoveIfNotClosed()

		if _, err = f.Write(data); err != nil {
			return err
		}
		return f.Close()
	}

For the common case use WriteFile().

Background: https://lwn.net/Articles/457667/
*/
package atomicfile
