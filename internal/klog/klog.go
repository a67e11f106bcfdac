// Package klog is the kernel's host/test-side structured logger: a
// thin wrapper over go.uber.org/zap, named after the teacher's
// preference for one structured logging library over hand-rolled
// Printf call sites (SPEC_FULL.md's ambient-stack logging section).
// On real hardware there is no stdout; cmd/kernel instead points this
// at an internal/console.Writer-backed zapcore before handing control
// to the scheduler.
package klog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atomicos/atomicos/internal/console"
	"github.com/atomicos/atomicos/internal/syscalls"
)

// writerAdapter lets an internal/console.Writer serve as a zap sink,
// since console.Writer exposes WriteBytes rather than io.Writer's
// Write.
type writerAdapter struct{ w console.Writer }

func (a writerAdapter) Write(p []byte) (int, error) { return a.w.WriteBytes(p) }

// NewFromConsole wraps a console.Writer (typically a
// console.MultiWriter fanning out to VGA + serial) as a zap sink.
func NewFromConsole(w console.Writer) *zap.Logger {
	return New(zapcore.AddSync(writerAdapter{w}))
}

// L is the package-level logger every subsystem calls through. New
// replaces it; the zero value is a safe no-op logger so packages that
// log before boot calls New don't panic.
var L = zap.NewNop()

// New builds a development-style logger (human-readable, caller info,
// no sampling) writing through w, and installs it as the package-level
// L. boot calls this once internal/console's writers exist.
func New(w zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), w, zap.DebugLevel)
	logger := zap.New(core, zap.AddCaller())
	L = logger
	return logger
}

// WireUnknownSyscallLogging overrides syscalls.UnknownSyscallLogger so
// unrecognized syscall numbers are reported through L rather than
// silently dropped (spec.md §4.4: "the kernel logs a warning for
// unknown numbers").
func WireUnknownSyscallLogging() {
	syscalls.UnknownSyscallLogger = func(num syscalls.Number) {
		L.Warn("unknown syscall number", zap.Int("number", int(num)))
	}
}
