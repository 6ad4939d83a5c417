// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/scroller/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

const colorReset = "\x1b[0m"

// ansiColors translates friendly names to ANSI codes.
var ansiColors = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// defaultColors apply to levels the configuration leaves blank.
var defaultColors = config.ColorConfig{
	Debug:  "cyan",
	Info:   "green",
	Warn:   "yellow",
	Error:  "red",
	DPanic: "magenta",
	Panic:  "magenta",
	Fatal:  "red",
}

// Rotation describes size based file rotation.
type Rotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// NewRotatingFile returns a writer that rotates path according to r. It is
// shared by the log file and the JSONL journal.
func NewRotatingFile(path string, r Rotation) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSize,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAge,
		Compress:   r.Compress,
	}
}

// NewLogger builds a logger from cfg writing to consoleWriter and, when
// cfg.LogFile is set, to a rotating JSON file. It touches no globals.
func NewLogger(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	cores := []zapcore.Core{zapcore.NewCore(encoderFor(cfg), consoleWriter, level)}
	if cfg.LogFile != "" {
		file := NewRotatingFile(cfg.LogFile, Rotation{
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		// Files are always structured.
		cores = append(cores, zapcore.NewCore(encoderFor(config.LoggerConfig{Format: "json"}), zapcore.AddSync(file), level))
	}

	options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		options = append(options, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(cores...), options...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger, nil
}

// Initialize sets up the global logger once. An unusable level falls back
// to info and is reported through the new logger.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		logger, err := NewLogger(cfg, consoleWriter)
		if err != nil {
			requested := cfg.Level
			cfg.Level = "info"
			logger, _ = NewLogger(cfg, consoleWriter)
			logger.Warn("Unknown log level; using info.", zap.String("level", requested))
		}
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
	})
}

// InitializeLogger is Initialize writing the console stream to a locked Stderr,
// leaving Stdout for command output.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func levelColor(level zapcore.Level, colors config.ColorConfig) string {
	name := map[zapcore.Level][2]string{
		zapcore.DebugLevel:  {colors.Debug, defaultColors.Debug},
		zapcore.InfoLevel:   {colors.Info, defaultColors.Info},
		zapcore.WarnLevel:   {colors.Warn, defaultColors.Warn},
		zapcore.ErrorLevel:  {colors.Error, defaultColors.Error},
		zapcore.DPanicLevel: {colors.DPanic, defaultColors.DPanic},
		zapcore.PanicLevel:  {colors.Panic, defaultColors.Panic},
		zapcore.FatalLevel:  {colors.Fatal, defaultColors.Fatal},
	}[level]
	if name[0] != "" {
		return ansiColors[name[0]]
	}
	return ansiColors[name[1]]
}

func colorizedLevelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		label := strings.ToUpper(level.String())
		if color := levelColor(level, colors); color != "" {
			enc.AppendString(color + label + colorReset)
			return
		}
		enc.AppendString(label)
	}
}

// encoderFor returns a colorized single line console encoder for the
// "console" format and a JSON encoder otherwise.
func encoderFor(cfg config.LoggerConfig) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = colorizedLevelEncoder(cfg.Colors)
		// Component names get a trailing dot: "scroller.virtual_window."
		encoderConfig.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(name + ".")
		}
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// GetLogger returns the global logger, or a development fallback if
// Initialize has not run.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes any buffered log entries. Applications should call this before exiting.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil {
		// Syncing a terminal or pipe fails on some platforms.
		msg := err.Error()
		if !strings.Contains(msg, "sync /dev/std") &&
			!strings.Contains(msg, "invalid argument") &&
			!strings.Contains(msg, "inappropriate ioctl") &&
			!strings.Contains(msg, "operation not supported") {
			fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
		}
	}
}
