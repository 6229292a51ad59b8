package mxshare

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerLevelsAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, "root", 0, LogLevelInfo)
	child := l.Fork("conn#%d", 7)
	require.Equal(t, "root: conn#7", child.Prefix())

	child.ILogf("hello %s", "there")
	child.DLogf("hidden")
	require.Equal(t, "root: conn#7: hello there\n", buf.String())

	// forks share the level
	l.SetLogLevel(LogLevelDebug)
	require.Equal(t, LogLevelDebug, child.GetLogLevel())
	child.DLogf("shown")
	require.Contains(t, buf.String(), "root: conn#7: shown")
}

func TestLogErrorfReturnsPrefixedError(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, "mux", 0, LogLevelError)

	err := l.WLogErrorf("dial %s failed", "x")
	require.EqualError(t, err, "mux: dial x failed")
	require.Empty(t, buf.String())

	err = l.ELogErrorf("bind failed")
	require.EqualError(t, err, "mux: bind failed")
	require.Equal(t, "mux: bind failed\n", buf.String())
}

func TestStringToLogLevel(t *testing.T) {
	require.Equal(t, LogLevelWarning, StringToLogLevel("warn"))
	require.Equal(t, LogLevelWarning, StringToLogLevel(" WARNING "))
	require.Equal(t, LogLevelTrace, StringToLogLevel("trace"))
	require.Equal(t, LogLevelUnknown, StringToLogLevel("verbose"))
	require.Equal(t, "debug", LogLevelDebug.String())
	require.Equal(t, "unknown", LogLevel(42).String())

	var lvl LogLevel
	require.NoError(t, lvl.FromString("error"))
	require.Equal(t, LogLevelError, lvl)
	require.Error(t, lvl.FromString("nope"))
}

func TestLogFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portmux.log")
	w, closer := NewLogFileWriter(LogFileConfig{Filename: path, MaxSizeMB: 1})
	l := NewLoggerWithWriter(w, "file", 0, LogLevelInfo)
	l.ILogf("to disk")
	require.NoError(t, closer.Close())

	b, err := readFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(b, "file: to disk\n"))
}
