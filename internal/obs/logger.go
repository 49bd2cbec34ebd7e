package obs

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes one JSON line per event. Methods are safe on a nil *Logger.
type Logger struct {
	zl zerolog.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, "info")
}

// NewLoggerTo builds a logger writing to w at the given level
// (debug, info, warn, error). Unknown levels fall back to info.
func NewLoggerTo(w io.Writer, level string) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &Logger{
		zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger(),
	}
}

// Component returns a child logger tagged with component=name.
func (lg *Logger) Component(name string) *Logger {
	if lg == nil {
		return nil
	}
	return &Logger{zl: lg.zl.With().Str("component", name).Logger()}
}

func (lg *Logger) Debug(fields map[string]interface{}) {
	if lg == nil {
		return
	}
	lg.zl.Debug().Fields(fields).Send()
}

func (lg *Logger) Info(fields map[string]interface{}) {
	if lg == nil {
		return
	}
	lg.zl.Info().Fields(fields).Send()
}

func (lg *Logger) Warn(fields map[string]interface{}) {
	if lg == nil {
		return
	}
	lg.zl.Warn().Fields(fields).Send()
}

func (lg *Logger) Error(fields map[string]interface{}) {
	if lg == nil {
		return
	}
	lg.zl.Error().Fields(fields).Send()
}
