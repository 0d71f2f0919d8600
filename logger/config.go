package logger

import (
	"io"
	"os"
)

// Config holds the configuration for the logger
type Config struct {
	Level      LogLevel
	Format     OutputFormat
	Outputs    []io.Writer
	Subsystem  string
	FileConfig *FileConfig
}

// FileConfig configures rotated file output
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// DefaultConfig returns a console logger configuration suitable for development
func DefaultConfig() *Config {
	return &Config{
		Level:   InfoLevel,
		Format:  ConsoleFormat,
		Outputs: []io.Writer{os.Stderr},
	}
}

// TestConfig returns a configuration that discards all output
func TestConfig() *Config {
	return &Config{
		Level:   ErrorLevel,
		Format:  JSONFormat,
		Outputs: []io.Writer{io.Discard},
	}
}
