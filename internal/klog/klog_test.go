package klog

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/atomicos/atomicos/internal/syscalls"
)

func TestWireUnknownSyscallLoggingWarnsOnce(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	orig := L
	L = zap.New(core)
	defer func() { L = orig }()

	WireUnknownSyscallLogging()
	defer func() { syscalls.UnknownSyscallLogger = func(num syscalls.Number) {} }()

	syscalls.UnknownSyscallLogger(syscalls.Number(99))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "unknown syscall number", entries[0].Message)
}
