package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_VerboseGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetVerbose(false)

	SetVerbose(false)
	Debug("hidden %d", 1)
	Info("hidden")
	Section("hidden")
	Warn("shown %s", "warn")
	Error("shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn\n")
	assert.Contains(t, out, "[ERROR] shown error\n")

	buf.Reset()
	SetVerbose(true)
	assert.True(t, IsVerbose())
	Debug("chunks=%d", 3)
	Section("Ingest")
	assert.Contains(t, buf.String(), "[DEBUG] chunks=3\n")
	assert.Contains(t, buf.String(), "=== Ingest ===")
}
