package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Storage is the destination filesystem tasks write into. All paths are API
// paths rooted at "/".
type Storage interface {
	RootAbs() string
	Resolve(clientPath string) (string, error)
	MkdirAll(clientPath string, perm fs.FileMode) error
	Stat(clientPath string) (fs.FileInfo, error)
	RemoveAll(clientPath string) error
	Rename(oldPath string, newPath string) error
	OpenForWrite(clientPath string) (*os.File, error)
}

var errRemoveRoot = errors.New("refusing to remove storage root")

// Local confines every API path to a directory on the local disk.
type Local struct {
	root string
}

// New creates root if needed and returns storage confined to it.
func New(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root cannot be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &Local{root: abs}, nil
}

func (s *Local) RootAbs() string {
	return s.root
}

func (s *Local) Resolve(clientPath string) (string, error) {
	return confine(s.root, clientPath)
}

func (s *Local) MkdirAll(clientPath string, perm fs.FileMode) error {
	return s.apply(clientPath, func(abs string) error { return os.MkdirAll(abs, perm) })
}

func (s *Local) Stat(clientPath string) (fs.FileInfo, error) {
	abs, err := s.Resolve(clientPath)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

func (s *Local) RemoveAll(clientPath string) error {
	return s.apply(clientPath, func(abs string) error {
		if abs == s.root {
			return errRemoveRoot
		}
		return os.RemoveAll(abs)
	})
}

// Rename moves an entry, creating the destination's parent directories.
func (s *Local) Rename(oldPath string, newPath string) error {
	from, err := s.Resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := s.Resolve(newPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("prepare destination %q: %w", newPath, err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %q to %q: %w", oldPath, newPath, err)
	}
	return nil
}

// OpenForWrite truncates or creates a file along with its parent directories.
func (s *Local) OpenForWrite(clientPath string) (*os.File, error) {
	abs, err := s.Resolve(clientPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	return os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func (s *Local) apply(clientPath string, op func(abs string) error) error {
	abs, err := s.Resolve(clientPath)
	if err != nil {
		return err
	}
	if err := op(abs); err != nil {
		return fmt.Errorf("%s: %w", clientPath, err)
	}
	return nil
}

// Exists reports whether an API path resolves to an existing entry.
func Exists(store Storage, clientPath string) bool {
	_, err := store.Stat(clientPath)
	return err == nil
}
