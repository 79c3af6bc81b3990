package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetupWriter(&buf, "production", level)
	t.Cleanup(func() { SetupWriter(os.Stderr, "dev", "info") })
	return &buf
}

func TestContextAttrsAreMergedIntoLines(t *testing.T) {
	buf := captureJSON(t, "info")

	ctx := WithAttrs(context.Background(), slog.String("request_id", "req-1"), slog.String("asset_id", "a"))
	ctx = WithAttrs(ctx, slog.String("asset_id", "b"))
	Info(ctx, "decision recorded", slog.String("decision", "approve"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "decision recorded", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "b", line["asset_id"])
	assert.Equal(t, "approve", line["decision"])
}

func TestLevelFiltersDebug(t *testing.T) {
	buf := captureJSON(t, "warn")

	Debug(context.Background(), "hidden")
	Info(context.Background(), "hidden too")
	Warn(context.Background(), "shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestAttrsReturnsCopy(t *testing.T) {
	ctx := WithAttrs(context.Background(), slog.String("k", "v"))
	attrs := Attrs(ctx)
	attrs[0] = slog.String("k", "mutated")
	assert.Equal(t, "v", Attrs(ctx)[0].Value.String())
	assert.Nil(t, Attrs(context.Background()))
}
