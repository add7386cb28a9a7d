package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/DeafMist/claim-radar/backend/internal/logger"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "worker", "debug", "JSON")
	log.Debug("ingested", "document_id", "abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "worker", line["service"])
	require.Equal(t, "abc", line["document_id"])
	require.Equal(t, "DEBUG", line["level"])
}

func TestNewWithWriterTextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "api", "warn", "")
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	require.False(t, strings.Contains(out, "hidden"))
	require.Contains(t, out, "msg=shown")
	require.Contains(t, out, "service=api")
}
