// Package vfs is C2's mount table: an ordered sequence of (prefix,
// filesystem) pairs, path resolution across them, and the uniform
// filesystem capability set every mounted filesystem implements.
// Grounded on spec.md §4.2's VFS design and on mazboot's habit of
// expressing a subsystem as one small interface plus a thin
// dispatcher (e.g. syscall.go's SyscallXxx functions).
package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Error taxonomy (spec.md §7).
var (
	ErrNotFound      = errors.New("vfs: not found")
	ErrAlreadyExists = errors.New("vfs: already exists")
	ErrNotADirectory = errors.New("vfs: not a directory")
	ErrIsADirectory  = errors.New("vfs: is a directory")
	ErrInvalidPath   = errors.New("vfs: invalid path")
	ErrIO            = errors.New("vfs: io error")
	ErrNoSpace       = errors.New("vfs: no space")
	ErrNotMounted    = errors.New("vfs: not mounted")
)

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FileSystem is the uniform capability set every mounted filesystem
// implements (spec.md §3 VFS): name, create, mkdir, lookup,
// read(offset,buf), write(offset,data), readdir, unlink. Paths passed
// in are already relative to the filesystem's mount point.
type FileSystem interface {
	Name() string
	Create(path string) error
	Mkdir(path string) error
	Lookup(path string) (isDir bool, err error)
	Read(path string, offset uint64, buf []byte) (int, error)
	Write(path string, offset uint64, data []byte) (int, error)
	Readdir(path string) ([]DirEntry, error)
	Unlink(path string) error
}

type mount struct {
	prefix string
	fs     FileSystem
}

// VFS is the mount table. It is safe for concurrent use: spec.md §5
// requires the VFS be guarded by a single mutex, with per-filesystem
// state internally serialized beneath it.
type VFS struct {
	mu     sync.Mutex
	mounts []mount
}

// New returns an empty VFS. Callers must Mount("/", rootFS) before any
// Resolve call can succeed, per spec.md §3's invariant that "/" is
// present at all times after init.
func New() *VFS {
	return &VFS{}
}

// Mount appends a (prefix, fs) pair and re-sorts the table so longer
// prefixes match before shorter ones (spec.md §4.2).
func (v *VFS) Mount(prefix string, fs FileSystem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mounts = append(v.mounts, mount{prefix: cleanPrefix(prefix), fs: fs})
	sort.SliceStable(v.mounts, func(i, j int) bool {
		return len(v.mounts[i].prefix) > len(v.mounts[j].prefix)
	})
}

func cleanPrefix(p string) string {
	if p != "/" {
		return strings.TrimSuffix(p, "/")
	}
	return p
}

// Resolve picks the first mount whose prefix equals path or is
// followed by "/", or falls back to the root mount, and returns that
// filesystem plus path re-rooted relative to the mount (spec.md
// §4.2, §8 "Path resolution" scenario).
func (v *VFS) Resolve(absolutePath string) (FileSystem, string, error) {
	if !strings.HasPrefix(absolutePath, "/") {
		return nil, "", ErrInvalidPath
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, m := range v.mounts {
		if m.prefix == "/" {
			continue // root is the fallback, tried last
		}
		if absolutePath == m.prefix || strings.HasPrefix(absolutePath, m.prefix+"/") {
			rel := strings.TrimPrefix(absolutePath, m.prefix)
			if rel == "" {
				rel = "/"
			}
			return m.fs, rel, nil
		}
	}
	for _, m := range v.mounts {
		if m.prefix == "/" {
			return m.fs, absolutePath, nil
		}
	}
	return nil, "", ErrNotMounted
}

// Create, Mkdir, Lookup, Read, Write, Readdir, and Unlink all resolve
// the path and delegate to the owning filesystem (spec.md §4.2: "All
// user operations ... go through resolve").

func (v *VFS) Create(path string) error {
	fs, rel, err := v.Resolve(path)
	if err != nil {
		return err
	}
	return fs.Create(rel)
}

func (v *VFS) Mkdir(path string) error {
	fs, rel, err := v.Resolve(path)
	if err != nil {
		return err
	}
	return fs.Mkdir(rel)
}

func (v *VFS) Lookup(path string) (bool, error) {
	fs, rel, err := v.Resolve(path)
	if err != nil {
		return false, err
	}
	return fs.Lookup(rel)
}

func (v *VFS) Read(path string, offset uint64, buf []byte) (int, error) {
	fs, rel, err := v.Resolve(path)
	if err != nil {
		return 0, err
	}
	return fs.Read(rel, offset, buf)
}

func (v *VFS) Write(path string, offset uint64, data []byte) (int, error) {
	fs, rel, err := v.Resolve(path)
	if err != nil {
		return 0, err
	}
	return fs.Write(rel, offset, data)
}

func (v *VFS) Readdir(path string) ([]DirEntry, error) {
	fs, rel, err := v.Resolve(path)
	if err != nil {
		return nil, err
	}
	return fs.Readdir(rel)
}

func (v *VFS) Unlink(path string) error {
	fs, rel, err := v.Resolve(path)
	if err != nil {
		return err
	}
	return fs.Unlink(rel)
}
