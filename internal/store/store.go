package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"filesync/internal/protocol"
)

// Store reads and writes named files under a root directory. Names are
// slash-separated paths relative to the root. Every access goes through
// an os.Root, so neither ".." nor a symlink can reach outside it.
type Store struct {
	path    string
	root    *os.Root
	digests *digestCache
}

// File is an open file together with the size observed when it was
// opened. Readers should trust Size rather than re-stat the file.
type File struct {
	*os.File
	Size uint64
}

func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	r, err := os.OpenRoot(abs)
	if err != nil {
		return nil, err
	}
	return &Store{path: abs, root: r, digests: newDigestCache()}, nil
}

func (s *Store) Root() string {
	return s.path
}

func (s *Store) Close() error {
	return s.root.Close()
}

// Path resolves name to an absolute path inside the root. Only the name
// is checked here; symlinks are refused when the file is accessed.
func (s *Store) Path(name string) (string, error) {
	local, err := s.local(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.path, local), nil
}

// local converts name to a path relative to the root.
func (s *Store) local(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty file name", protocol.ErrProtocol)
	}
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: file name %q is not a local path", protocol.ErrProtocol, name)
	}
	return filepath.Clean(local), nil
}

func (s *Store) stat(name string) (string, fs.FileInfo, error) {
	local, err := s.local(name)
	if err != nil {
		return "", nil, err
	}
	info, err := s.root.Stat(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return local, nil, fmt.Errorf("%w: %s", protocol.ErrFileNotFound, name)
		}
		return local, nil, err
	}
	if !info.Mode().IsRegular() {
		return local, nil, fmt.Errorf("%w: %s is not a regular file", protocol.ErrFileNotFound, name)
	}
	return local, info, nil
}

// Exists reports whether name is a regular file.
func (s *Store) Exists(name string) (bool, error) {
	_, _, err := s.stat(name)
	if errors.Is(err, protocol.ErrFileNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Size(name string) (uint64, error) {
	_, info, err := s.stat(name)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// Open opens name for reading and records its size from the same handle.
func (s *Store) Open(name string) (*File, error) {
	local, err := s.local(name)
	if err != nil {
		return nil, err
	}
	f, err := s.root.Open(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", protocol.ErrFileNotFound, name)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", protocol.ErrFileNotFound, name)
	}
	return &File{File: f, Size: uint64(info.Size())}, nil
}

func (s *Store) ReadAll(name string) ([]byte, error) {
	f, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ReadRange returns length bytes starting at offset. A range past the end
// of the file is an error.
func (s *Store) ReadRange(name string, offset, length uint64) ([]byte, error) {
	f, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if offset > f.Size || length > f.Size-offset {
		return nil, fmt.Errorf("range %d+%d outside %s (%d bytes)", offset, length, name, f.Size)
	}
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, int64(offset))
	if uint64(n) == length {
		return buf, nil
	}
	return nil, err
}

// CreateFrom creates name with the bytes fill writes. The content goes to
// a temporary file in the destination directory and is renamed into place
// only when fill succeeds, so a failed transfer leaves nothing behind.
// An existing file with the same name is replaced.
func (s *Store) CreateFrom(name string, fill func(w io.Writer) error) error {
	local, err := s.local(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(local)
	if dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpName := filepath.Join(dir, ".filesync-"+uuid.NewString())
	tmp, err := s.root.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			s.root.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.root.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := s.root.Rename(tmpName, local); err != nil {
		return err
	}
	committed = true
	s.digests.forget(local)
	return nil
}

func (s *Store) CreateAndWrite(name string, data []byte) error {
	return s.CreateFrom(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// AppendFrom appends the bytes fill writes to the end of an existing
// file. If fill fails the file is truncated back to its original size.
func (s *Store) AppendFrom(name string, fill func(w io.Writer) error) error {
	local, _, err := s.stat(name)
	if err != nil {
		return err
	}
	f, err := s.root.OpenFile(local, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	defer s.digests.forget(local)

	original, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		if terr := f.Truncate(original); terr != nil {
			return fmt.Errorf("%w (rollback to %d bytes failed: %v)", err, original, terr)
		}
		return err
	}
	return f.Sync()
}

func (s *Store) AppendBytes(name string, data []byte) error {
	return s.AppendFrom(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
