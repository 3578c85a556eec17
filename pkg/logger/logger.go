// Package logger configures the global zerolog logger for the pool and its
// embedding process.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `json:"Level"`
	// Format is the log format (json or console).
	Format string `json:"Format"`
	// Output is the output destination (stdout, file, or both).
	Output string `json:"Output"`
	// FilePath is the log file path (required when output is file or both).
	FilePath string `json:"FilePath"`
	// MaxSize is the maximum size in megabytes before rotation.
	MaxSize int `json:"MaxSize"`
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"MaxBackups"`
	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"MaxAge"`
	// Compress determines if rotated files should be compressed.
	Compress bool `json:"Compress"`
}

// DefaultLogConfig returns a LogConfig with sensible defaults.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		FilePath:   "logs/rondb.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

// Setup configures the global zerolog logger based on cfg.
func Setup(cfg *LogConfig) error {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	switch cfg.Output {
	case "file":
		fileWriter, err := buildFileWriter(cfg)
		if err != nil {
			return err
		}
		writers = append(writers, fileWriter)
	case "both":
		writers = append(writers, buildStdoutWriter(cfg.Format))
		fileWriter, err := buildFileWriter(cfg)
		if err != nil {
			return err
		}
		writers = append(writers, fileWriter)
	default:
		writers = append(writers, buildStdoutWriter(cfg.Format))
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// GetLogger returns a logger tagged with the given component name.
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func buildStdoutWriter(format string) io.Writer {
	if format == "console" {
		return zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}
	return os.Stdout
}

func buildFileWriter(cfg *LogConfig) (io.Writer, error) {
	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}, nil
}
