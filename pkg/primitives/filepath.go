package primitives

import (
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Filepath is a type-safe wrapper around file paths used throughout the
// storage engine. Heap files and B+-tree files identify themselves by hashing
// their absolute path, so the same file always maps to the same table id.
type Filepath string

// Hash generates the FileID for this path using xxhash. The catalog relies on
// this being injective over the files it registers; hashing the cleaned
// absolute path makes collisions across distinct tables practically
// impossible while keeping the id deterministic.
func (f Filepath) Hash() FileID {
	abs, err := filepath.Abs(string(f))
	if err != nil {
		abs = string(f)
	}
	return FileID(xxhash.Sum64String(filepath.Clean(abs)))
}

// String converts the Filepath to a standard string.
func (f Filepath) String() string {
	return string(f)
}

// Join concatenates path elements to this path and returns a new Filepath.
func (f Filepath) Join(elem ...string) Filepath {
	parts := append([]string{string(f)}, elem...)
	return Filepath(filepath.Join(parts...))
}

// Dir returns the directory portion of the file path.
func (f Filepath) Dir() string {
	return filepath.Dir(string(f))
}

// Base returns the last element of the path (the filename).
func (f Filepath) Base() string {
	return filepath.Base(string(f))
}

// Exists checks whether the file exists on the filesystem.
func (f Filepath) Exists() bool {
	_, err := os.Stat(string(f))
	return err == nil
}

// Remove deletes the file from the filesystem. Removing a file that does not
// exist succeeds.
func (f Filepath) Remove() error {
	if !f.Exists() {
		return nil
	}
	return os.Remove(string(f))
}

// IsEmpty checks whether the filepath is an empty string.
func (f Filepath) IsEmpty() bool {
	return string(f) == ""
}
