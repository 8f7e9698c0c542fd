package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"barfeed/internal/logging"
)

func TestNewWithOutput_LevelAndComponent(t *testing.T) {
	t.Parallel()

	// Arrange
	var buf bytes.Buffer
	l := logging.NewWithOutput("warn", &buf).Component("fetcher")

	// Act
	l.Info().Msg("hidden")
	l.Warn().Str("symbol", "TCS").Msg("shown")

	// Assert: only the warn line is written, as JSON.
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "shown", line["message"])
	require.Equal(t, "fetcher", line["component"])
	require.Equal(t, "TCS", line["symbol"])
	require.Equal(t, "warn", line["level"])
}

func TestNewSilent(t *testing.T) {
	t.Parallel()

	l := logging.NewSilent()
	l.Error().Msg("nothing")
	require.NotNil(t, l.Component("x"))
}
