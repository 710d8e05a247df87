package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	// level is shared by every handler install builds, so a level change
	// never needs a new handler.
	level   = new(slog.LevelVar)
	current atomic.Pointer[slog.Logger]

	mu      sync.Mutex
	logFile *os.File
)

func init() {
	install(os.Stdout, "text", colorFor(os.Stdout))
}

// Init applies cfg. Empty fields fall back to INFO, text and stdout.
func Init(cfg Config) error {
	lvl := slog.LevelInfo
	if cfg.Level != "" {
		var err error
		if lvl, err = parseLevel(cfg.Level); err != nil {
			return err
		}
	}

	format := strings.ToLower(cfg.Format)
	switch format {
	case "":
		format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	mu.Lock()
	defer mu.Unlock()

	var (
		w     io.Writer
		color bool
		file  *os.File
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w, color = os.Stdout, colorFor(os.Stdout)
	case "stderr":
		w, color = os.Stderr, colorFor(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		w, file = f, f
	}

	level.Set(lvl)
	install(w, format, color)

	if logFile != nil && logFile != file {
		_ = logFile.Close()
	}
	logFile = file
	return nil
}

// install publishes a logger writing to w.
func install(w io.Writer, format string, color bool) {
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		h = newTextHandler(w, level, color)
	}
	current.Store(slog.New(contextHandler{h}))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// colorFor reports whether f is a terminal that should get ANSI colors.
// NO_COLOR disables them regardless.
func colorFor(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isTerminal(f)
}

// ============================================================================
// Structured Logging API
// ============================================================================
//
// Arguments are slog key/value pairs:
//
//	logger.Info("Login succeeded", logger.KeyPrincipal, name)

// Debug logs at debug level.
func Debug(msg string, args ...any) { emit(context.Background(), slog.LevelDebug, msg, args) }

// Info logs at info level.
func Info(msg string, args ...any) { emit(context.Background(), slog.LevelInfo, msg, args) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { emit(context.Background(), slog.LevelWarn, msg, args) }

// Error logs at error level.
func Error(msg string, args ...any) { emit(context.Background(), slog.LevelError, msg, args) }

// The Ctx variants add the LogContext and active span carried by ctx.

// DebugCtx logs at debug level with context fields.
func DebugCtx(ctx context.Context, msg string, args ...any) { emit(ctx, slog.LevelDebug, msg, args) }

// InfoCtx logs at info level with context fields.
func InfoCtx(ctx context.Context, msg string, args ...any) { emit(ctx, slog.LevelInfo, msg, args) }

// WarnCtx logs at warn level with context fields.
func WarnCtx(ctx context.Context, msg string, args ...any) { emit(ctx, slog.LevelWarn, msg, args) }

func emit(ctx context.Context, lvl slog.Level, msg string, args []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	current.Load().Log(ctx, lvl, msg, args...)
}

// elapsedMs returns the time since start in fractional milliseconds.
func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
