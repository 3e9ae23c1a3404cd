package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_Success(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success(42))
	assert.Equal(t, "42\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Success(42))
	assert.JSONEq(t, `{"status":"ok","data":42}`, buf.String())
}

func TestOutputFormatter_Successf(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Successf(map[string]any{"n": 3}, "deleted %d records", 3))
	assert.Equal(t, "deleted 3 records\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Successf(map[string]any{"n": 3}, "deleted %d records", 3))
	assert.JSONEq(t, `{"status":"ok","data":{"n":3}}`, buf.String())
}

func TestOutputFormatter_List(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.List([]string{"a", "b"}))
	assert.Equal(t, "a\nb\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.List([]string{"a", "b"}))
	assert.JSONEq(t, `{"status":"ok","data":["a","b"]}`, buf.String())
}

func TestOutputFormatter_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Error("it broke", nil))
	assert.Equal(t, "error: it broke\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Error("it broke", map[string]any{"hint": "retry"}))
	assert.JSONEq(t, `{"status":"error","error":{"message":"it broke","details":{"hint":"retry"}}}`, buf.String())
}

func TestExitError(t *testing.T) {
	err := NewExitError(ExitFailure, "not found")
	assert.Equal(t, "not found", err.Error())
	assert.Equal(t, ExitFailure, GetExitCode(err))

	inner := errors.New("boom")
	wrapped := WrapExitError(ExitCommandError, "open engine", inner)
	assert.Equal(t, "open engine: boom", wrapped.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, inner)

	// Further wrapping preserves the code
	outer := fmt.Errorf("context: %w", wrapped)
	assert.Equal(t, ExitCommandError, GetExitCode(outer))

	// Non-ExitError defaults to failure
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
