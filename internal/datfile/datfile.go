// Package datfile loads .dat files into memory for the codec.
package datfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

var ErrTooLarge = errors.New("datfile: file too large to map on this architecture")

type File struct {
	Path    string
	Data    []byte
	mmapped bool
}

// Open maps a file read-only. If mmap is unavailable, or the file is empty,
// it falls back to ReadAt-based loading. Stdin is read fully. The returned
// file must be closed to release any mapping.
func Open(path string) (*File, error) {
	if path == Stdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return &File{Path: path, Data: data}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	size, err := fileSize(f)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return &File{Path: path, Data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return &File{Path: path, Data: data, mmapped: true}, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &File{Path: path, Data: data}, nil
}

func fileSize(f *os.File) (int, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := stat.Size()
	if size > int64(int(^uint(0)>>1)) {
		return 0, ErrTooLarge
	}
	return int(size), nil
}

// ReadHeader reads at most n bytes from the start of path without loading
// the rest of the file.
func ReadHeader(path string, n int) ([]byte, error) {
	if path == Stdin {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, int64(n)))
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, n)
	got, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf[:got], nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

// Size is the number of bytes loaded.
func (f *File) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Data))
}

// Close releases any mmap backing. Data must not be used afterwards.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.mmapped = false
	return err
}

// Remove deletes the file on disk. Stdin cannot be removed.
func Remove(path string) error {
	if path == Stdin {
		return fmt.Errorf("cannot delete standard input")
	}
	return os.Remove(path)
}
