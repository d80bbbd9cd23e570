// Package persist provides the atomic write-temp-then-rename durability
// contract shared by every file this system persists — the UPS state file,
// the battery-history file, and the ShutdownLatch marker (spec §5, §6).
package persist

import "os"
import "path/filepath"

// WriteAtomic writes data to path by creating a temp file in the same
// directory, writing and closing it, then renaming it over path. Rename is
// atomic on the same filesystem, so readers never observe a partially
// written file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
