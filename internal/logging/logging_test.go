package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/mdobak/go-xerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNew_RendersErrorWithTrace(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelInfo)
	l.Error("reader: failed", slog.Any("error", xerrors.New(errors.New("boom"))))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	errAttr, ok := rec["error"].(map[string]any)
	require.True(t, ok, "error should render as a group: %s", buf.String())
	assert.Contains(t, errAttr["msg"], "boom")
	assert.NotEmpty(t, errAttr["trace"])
}

func TestNew_PlainErrorHasNoTrace(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo).Warn("x", slog.Any("error", errors.New("plain")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	errAttr := rec["error"].(map[string]any)
	assert.Equal(t, "plain", errAttr["msg"])
	_, hasTrace := errAttr["trace"]
	assert.False(t, hasTrace)
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelWarn).Info("quiet")
	assert.Zero(t, buf.Len())
}
