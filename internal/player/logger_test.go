package player

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimSourcePath(t *testing.T) {
	root := filepath.FromSlash("/src/wsplay")
	assert.Equal(t, filepath.FromSlash("pkg/wsmedia/source.go"),
		trimSourcePath(root, filepath.FromSlash("/src/wsplay/pkg/wsmedia/source.go")))
	assert.Equal(t, filepath.FromSlash("/usr/lib/go/src/net/http/server.go"),
		trimSourcePath(root, filepath.FromSlash("/usr/lib/go/src/net/http/server.go")))
	assert.Equal(t, filepath.FromSlash("/src/wsplay2/main.go"),
		trimSourcePath(root, filepath.FromSlash("/src/wsplay2/main.go")))
	assert.Equal(t, "main.go", trimSourcePath("", "main.go"))
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLogHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.Info("stream opened", "sessionId", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "stream opened")
	assert.Contains(t, out, "sessionId=abc")
	assert.Contains(t, out, "logger_test.go:")
	assert.False(t, strings.Contains(out, "\x1b["), "colour codes written to a non-terminal")
}
