package applog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestNewTextFormatWritesLogfmt(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatText)
	level.Info(logger).Log("msg", "hello", "n", 1)

	out := buf.String()
	require.Contains(t, out, "msg=hello")
	require.Contains(t, out, "n=1")
	require.Contains(t, out, "ts=")
}

func TestNewJSONFormatWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON)
	level.Info(logger).Log("msg", "hello")

	out := buf.String()
	require.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	require.Contains(t, out, `"msg":"hello"`)
}

func TestNopDiscardsOutput(t *testing.T) {
	logger := Nop()
	err := level.Info(logger).Log("msg", "should not panic or write anywhere")
	require.NoError(t, err)
}
