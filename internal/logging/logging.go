package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls logger setup
type Options struct {
	// Verbosity selects the level: 0 warn, 1 info, 2 debug, 3+ trace
	Verbosity int

	// Console receives human readable output. Defaults to os.Stderr.
	Console io.Writer

	// File is the path of the JSON log file. Empty uses DefaultLogFile().
	// "-" disables file logging.
	File string

	// NoColor disables colours in console output
	NoColor bool
}

// Until Setup runs, loggers only emit warnings and errors
func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// Setup configures the global logger. Output goes to the console writer and,
// unless disabled, to a JSON log file. The returned function closes the file.
func Setup(opts Options) func() {
	zerolog.SetGlobalLevel(LevelFor(opts.Verbosity))

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.Kitchen,
		NoColor:    opts.NoColor,
	}}

	logFile := opts.File
	if logFile == "" {
		logFile = DefaultLogFile()
	}

	var fileHandle *os.File
	var fileErr error
	if logFile != "-" {
		fileHandle, fileErr = openLogFile(logFile)
		if fileErr == nil {
			writers = append(writers, fileHandle)
		}
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	if opts.Verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", logFile).Msg("Failed to open log file, logging to console only")
	}
	log.Debug().Int("verbosity", opts.Verbosity).Str("logFile", logFile).Msg("Logger initialized")

	return func() {
		if fileHandle != nil {
			fileHandle.Close()
		}
	}
}

// LevelFor maps a -v count to a zerolog level
func LevelFor(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// GetLogger returns a logger tagged with a component name
func GetLogger(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// DefaultLogFile returns $XDG_STATE_HOME/caravan/caravan.log
func DefaultLogFile() string {
	return filepath.Join(xdg.StateHome, "caravan", "caravan.log")
}

// LogDuration logs the duration of an operation at debug level
func LogDuration(logger zerolog.Logger, start time.Time, operation string) {
	logger.Debug().
		Str("operation", operation).
		Dur("duration", time.Since(start)).
		Msg("Operation completed")
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return file, nil
}
