// Package ramfs implements the tree-based in-memory filesystem C2
// mounts at "/" during boot. Grounded on spec.md §4.2's RAMFS design:
// an arena of nodes addressed by id, with path resolution walking
// children by matching segment names.
package ramfs

import (
	"strings"
	"sync"

	"github.com/atomicos/atomicos/internal/vfs"
)

type kind int

const (
	kindFile kind = iota
	kindDir
)

type node struct {
	id        int
	name      string
	kind      kind
	parent    int
	hasParent bool
	children  []int
	data      []byte
}

// RootID is the arena id of the root directory, which can never be
// removed (spec.md §3).
const RootID = 0

// RAMFS is an arena of nodes forming a single directory tree.
type RAMFS struct {
	mu     sync.Mutex
	nodes  map[int]*node
	nextID int
}

// New returns a RAMFS containing only the root directory.
func New() *RAMFS {
	return &RAMFS{
		nodes:  map[int]*node{RootID: {id: RootID, name: "/", kind: kindDir}},
		nextID: RootID + 1,
	}
}

func (f *RAMFS) Name() string { return "ramfs" }

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// resolve walks from root matching child names, returning the node id
// reached. Must be called with f.mu held.
func (f *RAMFS) resolve(path string) (int, error) {
	cur := RootID
	for _, seg := range splitPath(path) {
		n := f.nodes[cur]
		if n.kind != kindDir {
			return 0, vfs.ErrNotADirectory
		}
		found := -1
		for _, cid := range n.children {
			if f.nodes[cid].name == seg {
				found = cid
				break
			}
		}
		if found == -1 {
			return 0, vfs.ErrNotFound
		}
		cur = found
	}
	return cur, nil
}

// splitParent resolves path's parent directory id and returns it
// alongside the final path segment (the basename to create/remove).
// Must be called with f.mu held.
func (f *RAMFS) splitParent(path string) (parentID int, name string, err error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return 0, "", vfs.ErrInvalidPath
	}
	name = segs[len(segs)-1]
	parentID, err = f.resolve(strings.Join(segs[:len(segs)-1], "/"))
	return parentID, name, err
}

func (f *RAMFS) create(path string, k kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parentID, name, err := f.splitParent(path)
	if err != nil {
		return err
	}
	parent := f.nodes[parentID]
	if parent.kind != kindDir {
		return vfs.ErrNotADirectory
	}
	for _, cid := range parent.children {
		if f.nodes[cid].name == name {
			return vfs.ErrAlreadyExists
		}
	}

	id := f.nextID
	f.nextID++
	f.nodes[id] = &node{id: id, name: name, kind: k, parent: parentID, hasParent: true}
	parent.children = append(parent.children, id)
	return nil
}

func (f *RAMFS) Create(path string) error { return f.create(path, kindFile) }
func (f *RAMFS) Mkdir(path string) error  { return f.create(path, kindDir) }

func (f *RAMFS) Lookup(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.resolve(path)
	if err != nil {
		return false, err
	}
	return f.nodes[id].kind == kindDir, nil
}

func (f *RAMFS) Read(path string, offset uint64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	n := f.nodes[id]
	if n.kind != kindFile {
		return 0, vfs.ErrIsADirectory
	}
	if offset >= uint64(len(n.data)) {
		return 0, nil // read past EOF returns 0 (spec.md §4.2)
	}
	return copy(buf, n.data[offset:]), nil
}

func (f *RAMFS) Write(path string, offset uint64, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	n := f.nodes[id]
	if n.kind != kindFile {
		return 0, vfs.ErrIsADirectory
	}
	end := offset + uint64(len(data))
	if end > uint64(len(n.data)) {
		grown := make([]byte, end) // write extends with zero-fill on gaps
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:end], data)
	return len(data), nil
}

func (f *RAMFS) Readdir(path string) ([]vfs.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	n := f.nodes[id]
	if n.kind != kindDir {
		return nil, vfs.ErrNotADirectory
	}
	entries := make([]vfs.DirEntry, 0, len(n.children))
	for _, cid := range n.children {
		c := f.nodes[cid]
		entries = append(entries, vfs.DirEntry{Name: c.name, IsDir: c.kind == kindDir})
	}
	return entries, nil
}

func (f *RAMFS) Unlink(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.resolve(path)
	if err != nil {
		return err
	}
	if id == RootID {
		return vfs.ErrInvalidPath
	}
	n := f.nodes[id]
	if n.kind == kindDir && len(n.children) > 0 {
		return vfs.ErrInvalidPath
	}
	parent := f.nodes[n.parent]
	for i, cid := range parent.children {
		if cid == id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	delete(f.nodes, id)
	return nil
}

// Seed populates the boot-time tree the §8 scenario describes:
// /boot, /etc/hostname (contents "atomicos\n"), /home, /README.md,
// /BUILD.md. Kept as a separate operation from New so tests can build
// an empty RAMFS and check the seed scenario independently
// (SPEC_FULL.md supplemented feature #5).
func (f *RAMFS) Seed() error {
	for _, dir := range []string{"/boot", "/etc", "/home"} {
		if err := f.Mkdir(dir); err != nil {
			return err
		}
	}
	for _, file := range []string{"/README.md", "/BUILD.md", "/etc/hostname"} {
		if err := f.Create(file); err != nil {
			return err
		}
	}
	if _, err := f.Write("/etc/hostname", 0, []byte("atomicos\n")); err != nil {
		return err
	}
	return nil
}
