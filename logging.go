package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logLevels are the accepted --loglevel values, most severe first.
var logLevels = []string{"critical", "error", "warning", "info", "debug"}

func parseLogLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(s) {
	case "critical":
		return zerolog.FatalLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("invalid log level %q (choose from %s)", s, strings.Join(logLevels, ", "))
}

// levelName prints zerolog levels with the names accepted by --loglevel.
func levelName(i interface{}) string {
	s, _ := i.(string)
	switch s {
	case zerolog.LevelFatalValue, zerolog.LevelPanicValue:
		return "CRITICAL"
	case zerolog.LevelWarnValue:
		return "WARNING"
	}
	return strings.ToUpper(s)
}

// setupLogging points the global logger at console and, when logFile is
// set, at that file as well. The returned closer releases the file.
func setupLogging(level zerolog.Level, console io.Writer, logFile string) (io.Closer, error) {
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if console != nil {
		writers = append(writers, newConsoleWriter(console, false))
	}

	var closer io.Closer = nopCloser{}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, newConsoleWriter(f, true))
		closer = f
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return closer, nil
}

func newConsoleWriter(w io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:         w,
		NoColor:     noColor,
		TimeFormat:  "01-02 15:04",
		FormatLevel: func(i interface{}) string { return levelName(i) + " -" },
	}
}

// critical logs a condition that ends the process.
func critical() *zerolog.Event {
	return log.WithLevel(zerolog.FatalLevel)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
