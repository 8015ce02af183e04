package obs

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout, zerolog.InfoLevel)
)

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Setup configures the shared logger. In dev mode output is human readable.
func Setup(level string, dev bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var w io.Writer = os.Stdout
	if dev {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	loggerMu.Lock()
	logger = newLogger(w, lvl)
	loggerMu.Unlock()
}

// SetOutput redirects the shared logger, keeping JSON encoding. Intended for tests.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	logger = newLogger(w, logger.GetLevel())
	loggerMu.Unlock()
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	return &l
}

// LogRequest emits a structured log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	Logger().Info().Fields(entry).Msg("request_complete")
}
