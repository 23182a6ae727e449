package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", &buf)
	require.NoError(t, err)

	logger.Info("action submitted", "intake_id", "int_1", "type", "IssueLifecycleId")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "action submitted", record["msg"])
	assert.Equal(t, "int_1", record["intake_id"])
	assert.Contains(t, record, "time")
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, level)

	level, err = ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
