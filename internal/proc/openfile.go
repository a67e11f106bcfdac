package proc

import "sync"

// OpenFileKind discriminates the Open-file variant (spec.md §3).
type OpenFileKind int

const (
	KindRegular OpenFileKind = iota
	KindConsole
	KindPipeRead
	KindPipeWrite
)

// ConsoleIO is the out-of-scope collaborator a Console open-file reads
// from and writes to: the keyboard line buffer on read, VGA+serial
// broadcast on write. internal/console provides the real
// implementation; it is injected here as an interface so proc has no
// dependency on device drivers.
type ConsoleIO interface {
	ReadLine(buf []byte) (int, error)
	Broadcast(data []byte) (int, error)
}

// OpenFile is the shared, reference-counted object FD slots point at.
// Its Kind selects which fields are meaningful, matching spec.md §3's
// variant description.
type OpenFile struct {
	Kind OpenFileKind

	// Regular
	Path             string
	Offset           uint64
	Readable, Writable bool

	// Console
	Console ConsoleIO

	// PipeRead / PipeWrite
	Pipe *Pipe
}

// NewRegularFile constructs a Regular open-file handle over a VFS path.
func NewRegularFile(path string, readable, writable bool) *OpenFile {
	return &OpenFile{Kind: KindRegular, Path: path, Readable: readable, Writable: writable}
}

// NewConsoleFile constructs a Console open-file handle.
func NewConsoleFile(c ConsoleIO) *OpenFile {
	return &OpenFile{Kind: KindConsole, Console: c}
}

// NewPipeEndpoints builds the paired PipeRead/PipeWrite open-files for
// a freshly created Pipe (spec.md §4.4's pipe syscall).
func NewPipeEndpoints(p *Pipe) (readEnd, writeEnd *OpenFile) {
	return &OpenFile{Kind: KindPipeRead, Pipe: p}, &OpenFile{Kind: KindPipeWrite, Pipe: p}
}

// Handle is the shared, reference-counted pointer an FD slot actually
// holds. Every FD table entry that refers to the "same" open-file
// (after fork, dup, or dup2) holds this exact pointer with its
// refcount bumped, rather than a copy — mirroring the Arc<Mutex<..>>
// the original Rust implementation uses (spec.md Design Notes: "Shared,
// reference-counted file handles").
type Handle struct {
	mu   sync.Mutex
	refs int
	File *OpenFile
}

// NewHandle wraps f in a fresh handle with one reference.
func NewHandle(f *OpenFile) *Handle {
	return &Handle{refs: 1, File: f}
}

// Clone bumps the reference count and returns the same handle pointer
// (fork's FD-table clone, or dup/dup2).
func (h *Handle) Clone() *Handle {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
	return h
}

// Drop decrements the reference count. When it reaches zero, it
// performs the Pipe-direction side effect spec.md §3 requires
// ("dropping the last handle of a direction decrements the
// corresponding counter on P") and reports that this was the last
// reference.
func (h *Handle) Drop() (last bool) {
	h.mu.Lock()
	h.refs--
	remaining := h.refs
	h.mu.Unlock()
	if remaining > 0 {
		return false
	}
	if h.File.Kind == KindPipeRead {
		h.File.Pipe.RemoveReader()
	} else if h.File.Kind == KindPipeWrite {
		h.File.Pipe.RemoveWriter()
	}
	return true
}
