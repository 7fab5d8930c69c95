package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	isDevelopment = false // human readable console output

	logFile *os.File = nil

	// AdHocLogger is for code paths that do not own a component logger,
	// e.g. record construction.
	AdHocLogger zerolog.Logger

	once sync.Once

	globalLogger zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	AdHocLogger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "ad-hoc-logger").Caller().Logger()
}

// GetLogger returns the process wide logger, building it on first use.
// serviceName is only honoured by the first caller.
func GetLogger(serviceName string) zerolog.Logger {

	once.Do(func() {

		if !isDevelopment {
			var out io.Writer = os.Stderr
			if logFile != nil {
				out = zerolog.MultiLevelWriter(os.Stderr, logFile)
			}
			globalLogger = zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()
			return
		}

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				return strings.ToUpper(fmt.Sprintf("[%5s]", i))
			},
			FormatMessage: func(i any) string {
				return fmt.Sprintf("| %s |", i)
			},
			FormatCaller: func(i any) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
			PartsExclude: []string{
				zerolog.TimestampFieldName,
			}}

		var out io.Writer = consoleWriter
		if logFile != nil {
			out = zerolog.MultiLevelWriter(consoleWriter, logFile)
		}
		globalLogger = zerolog.New(out).Level(zerolog.TraceLevel).With().Timestamp().Str("service", serviceName).Caller().Logger()
	})

	return globalLogger
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return GetLogger("wiresql").With().Str("component", name).Logger()
}

func SetDevelopment(value bool) {
	isDevelopment = value
}

func SetLogFile(file *os.File) {
	logFile = file
}

// SetLevel parses a zerolog level name and applies it globally. Unknown
// names leave the level unchanged.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
