package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/lessq/lessq/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	require.NoError(t, Setup(config.LoggingConfig{Level: "WARN", Format: "json"}, &buf))

	log.Info().Msg("hidden")
	log.Warn().Int64("job_id", 3).Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, 3.0, entry["job_id"])
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Setup(config.LoggingConfig{Level: "loud", Format: "json"}, &buf))
	assert.Error(t, Setup(config.LoggingConfig{Level: "info", Format: "xml"}, &buf))
}
