package remoteio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/afero"
)

// ErrNotRegularFile is returned by FileSize for directories and other
// non-regular entries.
var ErrNotRegularFile = errors.New("not a regular file")

// Storage is the filesystem the commands operate on.
//
// Caller paths are resolved in one place: against the working directory for
// an unrooted host filesystem, or beneath "/" of the underlying afero.Fs
// otherwise (a BasePathFs for server.root, a MemMapFs in tests).
type Storage struct {
	fs     afero.Fs
	rooted bool
}

// NewStorage returns host filesystem storage. A non-empty root confines every
// path beneath that directory.
func NewStorage(root string) (*Storage, error) {
	if root == "" {
		return &Storage{fs: afero.NewOsFs()}, nil
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %q is not a directory", abs)
	}
	return &Storage{fs: afero.NewBasePathFs(afero.NewOsFs(), abs), rooted: true}, nil
}

// NewStorageFs wraps an arbitrary afero filesystem. Paths are resolved
// beneath its "/".
func NewStorageFs(fsys afero.Fs) *Storage {
	return &Storage{fs: fsys, rooted: true}
}

func (s *Storage) resolve(p string) (string, error) {
	if s.rooted {
		return filepath.Join(string(filepath.Separator), p), nil
	}
	return filepath.Abs(p)
}

// ReadFile returns the contents of a regular file. found is false when p is
// absent or is not a regular file.
func (s *Storage) ReadFile(p string) (data []byte, found bool, err error) {
	path, err := s.resolve(p)
	if err != nil {
		return nil, false, err
	}
	if !s.isRegular(path) {
		return nil, false, nil
	}
	data, err = afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// WriteFile creates or truncates p. The parent directory must exist.
func (s *Storage) WriteFile(p string, data []byte) error {
	path, err := s.resolve(p)
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, path, data, 0o644)
}

// DeleteFile removes a regular file. Absent paths are not an error.
func (s *Storage) DeleteFile(p string) error {
	path, err := s.resolve(p)
	if err != nil {
		return err
	}
	if !s.isRegular(path) {
		return nil
	}
	return s.fs.Remove(path)
}

// CreateDirectory creates p and any missing parents.
func (s *Storage) CreateDirectory(p string) error {
	path, err := s.resolve(p)
	if err != nil {
		return err
	}
	return s.fs.MkdirAll(path, 0o755)
}

// DeleteDirectory removes p and everything under it. Absent paths are not an
// error.
func (s *Storage) DeleteDirectory(p string) error {
	path, err := s.resolve(p)
	if err != nil {
		return err
	}
	if !s.isDir(path) {
		return nil
	}
	return s.fs.RemoveAll(path)
}

// FileExists reports whether p is a regular file. A missing entry or parent
// is false; any other stat failure is returned.
func (s *Storage) FileExists(p string) (bool, error) {
	info, err := s.probe(p)
	if err != nil || info == nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// DirectoryExists reports whether p is a directory, with the same error
// rules as FileExists.
func (s *Storage) DirectoryExists(p string) (bool, error) {
	info, err := s.probe(p)
	if err != nil || info == nil {
		return false, err
	}
	return info.IsDir(), nil
}

// probe stats p. It returns nil info and a nil error when p does not exist.
func (s *Storage) probe(p string) (fs.FileInfo, error) {
	path, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

// FileSize returns the length of a regular file.
func (s *Storage) FileSize(p string) (int64, error) {
	path, err := s.resolve(p)
	if err != nil {
		return 0, err
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s: %w", p, ErrNotRegularFile)
	}
	return info.Size(), nil
}

// ListFiles returns the regular files under p, relative to p, sorted. Only
// immediate children are listed unless recursive is set. A non-empty pattern
// is matched against each file's base name with filepath.Match. A missing p
// yields an empty list.
func (s *Storage) ListFiles(p, pattern string, recursive bool) ([]string, error) {
	root, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if pattern != "" {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("search pattern %q: %w", pattern, err)
		}
	}
	if !s.isDir(root) {
		return []string{}, nil
	}

	files := []string{}
	add := func(path string, info fs.FileInfo) error {
		if !info.Mode().IsRegular() {
			return nil
		}
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, info.Name()); !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	}

	if recursive {
		err = afero.Walk(s.fs, root, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			return add(path, info)
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := afero.ReadDir(s.fs, root)
		if err != nil {
			return nil, err
		}
		for _, info := range entries {
			if err := add(filepath.Join(root, info.Name()), info); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func (s *Storage) isRegular(path string) bool {
	info, err := s.fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (s *Storage) isDir(path string) bool {
	ok, err := afero.DirExists(s.fs, path)
	return err == nil && ok
}
