package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"llm-finetune/internal/config"
)

func TestNewWithWriter_JSONCarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, config.LogConfig{Level: "debug", Format: "json"}, false)

	ctx := WithJobID(WithTraceID(context.Background(), "trace-1"), "ftjob-1")
	With(ctx, base).Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "trace-1", line["trace_id"])
	require.Equal(t, "ftjob-1", line["job_id"])
	require.Equal(t, "hello", line["message"])
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, config.LogConfig{Level: "warn", Format: "json"}, false)

	l.Info().Msg("dropped")
	require.Zero(t, buf.Len())

	l.Warn().Msg("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(&buf, config.LogConfig{Level: "info"}, false), "engine")
	l.Info().Msg("x")
	require.Contains(t, buf.String(), `"component":"engine"`)

	require.NotNil(t, Component(nil, "engine"))
}

func TestRedact(t *testing.T) {
	require.Equal(t, "***", Redact("short", false))
	require.Equal(t, "sk-a...yz", Redact("sk-abcdefghijklmnopqrstuvwxyz", false))
	require.Equal(t, "plain", Redact("plain", true))
}
