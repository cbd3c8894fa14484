package page

import (
	"io"
	"os"
	"sync"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
)

// BaseFile provides the common disk layer for database file types: a single
// OS file treated as a random-access byte array, with a stable id derived
// from the file path.
//
// Thread-safety: all operations hold the file mutex, so multi-step sequences
// such as "check size then append" are atomic with respect to other BaseFile
// calls on the same handle.
type BaseFile struct {
	file     *os.File
	fileID   primitives.FileID
	mutex    sync.RWMutex
	filePath primitives.Filepath
}

// NewBaseFile opens (creating if necessary) the file at filePath.
func NewBaseFile(filePath primitives.Filepath) (*BaseFile, error) {
	if filePath.IsEmpty() {
		return nil, dberr.New(dberr.IllegalArgument, "file path cannot be empty")
	}

	file, err := os.OpenFile(filePath.String(), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.Wrap(dberr.IoError, err, "failed to open file "+filePath.String())
	}

	return &BaseFile{
		file:     file,
		fileID:   filePath.Hash(),
		filePath: filePath,
	}, nil
}

// GetID returns the stable identifier hashed from the file path.
func (bf *BaseFile) GetID() primitives.FileID {
	return bf.fileID
}

// FilePath returns the path used to open this file.
func (bf *BaseFile) FilePath() primitives.Filepath {
	return bf.filePath
}

// Size returns the current file length in bytes.
func (bf *BaseFile) Size() (int64, error) {
	bf.mutex.RLock()
	defer bf.mutex.RUnlock()
	return bf.sizeLocked()
}

func (bf *BaseFile) sizeLocked() (int64, error) {
	if bf.file == nil {
		return 0, dberr.New(dberr.IoError, "file is closed")
	}
	info, err := bf.file.Stat()
	if err != nil {
		return 0, dberr.Wrap(dberr.IoError, err, "failed to stat file")
	}
	return info.Size(), nil
}

// ReadRegion reads exactly n bytes starting at offset. A short read is
// reported as IllegalArgument: it means the caller asked for a page that is
// not fully present in the file.
func (bf *BaseFile) ReadRegion(offset int64, n int) ([]byte, error) {
	bf.mutex.RLock()
	defer bf.mutex.RUnlock()

	if bf.file == nil {
		return nil, dberr.New(dberr.IoError, "file is closed")
	}

	buf := make([]byte, n)
	read, err := bf.file.ReadAt(buf, offset)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, dberr.New(dberr.IllegalArgument,
				"short read: wanted %d bytes at offset %d, got %d", n, offset, read)
		}
		return nil, dberr.Wrap(dberr.IoError, err, "failed to read file region")
	}
	return buf, nil
}

// WriteRegion writes data at offset and syncs the file.
func (bf *BaseFile) WriteRegion(offset int64, data []byte) error {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()
	return bf.writeRegionLocked(offset, data)
}

func (bf *BaseFile) writeRegionLocked(offset int64, data []byte) error {
	if bf.file == nil {
		return dberr.New(dberr.IoError, "file is closed")
	}

	if _, err := bf.file.WriteAt(data, offset); err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to write file region")
	}
	if err := bf.file.Sync(); err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to sync file")
	}
	return nil
}

// Append atomically writes data at the current end of file and returns the
// offset it was written at. The size check and the write happen under the
// same lock, so two appenders never claim the same region.
func (bf *BaseFile) Append(data []byte) (int64, error) {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()

	offset, err := bf.sizeLocked()
	if err != nil {
		return 0, err
	}
	if err := bf.writeRegionLocked(offset, data); err != nil {
		return 0, err
	}
	return offset, nil
}

// AppendIfEmpty writes data at offset 0 only if the file is still empty, and
// reports whether it did. Used to lay down initial file structure exactly once.
func (bf *BaseFile) AppendIfEmpty(data []byte) (bool, error) {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()

	size, err := bf.sizeLocked()
	if err != nil {
		return false, err
	}
	if size != 0 {
		return false, nil
	}
	if err := bf.writeRegionLocked(0, data); err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the underlying file handle. Further operations fail.
func (bf *BaseFile) Close() error {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()

	if bf.file != nil {
		err := bf.file.Close()
		bf.file = nil
		if err != nil {
			return dberr.Wrap(dberr.IoError, err, "failed to close file")
		}
	}
	return nil
}
