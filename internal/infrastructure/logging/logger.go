package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
)

// ServiceName is attached to every entry as the "service" attribute.
const ServiceName = "access-control"

// redacted replaces the value of any attribute whose key names a secret.
const redacted = "[REDACTED]"

// secretKeys are attribute keys, or key suffixes, whose values never reach
// the log. Broker credentials and the InfluxDB token travel through config
// dumps and error paths.
var secretKeys = []string{"password", "token", "secret"}

// Logger is a slog.Logger carrying the service-wide attributes.
//
// *Logger satisfies the narrow Logger interfaces declared by the mqtt,
// router and device packages. It is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the process logger from the logging section of the config.
// Output "stderr" selects stderr; anything else writes to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(out, cfg, version)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

// parseLevel maps debug, info, warn and error (any case) to slog levels.
// Unknown values log at info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.HasSuffix(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// With returns a child logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with component=name, the
// convention every subsystem logger follows.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the bootstrap logger used until the config has been loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
