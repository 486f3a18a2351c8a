package staging

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// Source is an opaque local byte source picked by the user.
type Source interface {
	// Name is the original file name, extension included.
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type fileSource struct {
	fs   afero.Fs
	path string
	size int64
}

// FileSource stats path on fs and returns a Source reading from it.
func FileSource(fs afero.Fs, path string) (Source, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &fileSource{fs: fs, path: path, size: info.Size()}, nil
}

func (s *fileSource) Name() string { return filepath.Base(s.path) }
func (s *fileSource) Size() int64  { return s.size }

func (s *fileSource) Open() (io.ReadCloser, error) {
	return s.fs.Open(s.path)
}

type bytesSource struct {
	name string
	data []byte
}

// BytesSource wraps an in-memory file.
func BytesSource(name string, data []byte) Source {
	return &bytesSource{name: name, data: data}
}

func (s *bytesSource) Name() string { return s.name }
func (s *bytesSource) Size() int64  { return int64(len(s.data)) }

func (s *bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}
