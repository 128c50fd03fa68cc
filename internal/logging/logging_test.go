package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, LevelFor(-1))
	assert.Equal(t, zerolog.WarnLevel, LevelFor(0))
	assert.Equal(t, zerolog.InfoLevel, LevelFor(1))
	assert.Equal(t, zerolog.DebugLevel, LevelFor(2))
	assert.Equal(t, zerolog.TraceLevel, LevelFor(5))
}

func TestGetLogger_WarnBeforeSetup(t *testing.T) {
	prevLogger := log.Logger
	t.Cleanup(func() { log.Logger = prevLogger })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	logger := GetLogger("remote")
	logger.Trace().Msg("connecting")
	logger.Info().Msg("Release published")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("Cleanup of old releases failed")
	assert.Contains(t, buf.String(), "Cleanup of old releases failed")
}

func TestSetup_WritesConsoleAndFile(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "caravan.log")

	closeFn := Setup(Options{Verbosity: 1, Console: &console, File: logFile, NoColor: true})

	logger := GetLogger("deployment")
	logger.Info().Str("release", "20261019120000").Msg("Release published")
	logger.Debug().Msg("hidden at info level")
	closeFn()

	assert.Contains(t, console.String(), "Release published")
	assert.NotContains(t, console.String(), "hidden at info level")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"deployment"`)
	assert.Contains(t, string(data), `"release":"20261019120000"`)
}

func TestSetup_FileDisabled(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var console bytes.Buffer
	closeFn := Setup(Options{Verbosity: 0, Console: &console, File: "-", NoColor: true})
	defer closeFn()

	logger := GetLogger("remote")
	logger.Warn().Msg("host unreachable")
	assert.Contains(t, console.String(), "host unreachable")
}

func TestDefaultLogFile(t *testing.T) {
	assert.Equal(t, "caravan.log", filepath.Base(DefaultLogFile()))
	assert.Equal(t, "caravan", filepath.Base(filepath.Dir(DefaultLogFile())))
}
