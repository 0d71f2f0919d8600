package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// eventAppender abstracts the zerolog event so field types stay
// decoupled from the backend in the public API.
type eventAppender = *zerolog.Event

func (f StringField) apply(event eventAppender) eventAppender {
	return event.Str(f.Key, f.Value)
}

func (f IntField) apply(event eventAppender) eventAppender {
	return event.Int(f.Key, f.Value)
}

func (f Int64Field) apply(event eventAppender) eventAppender {
	return event.Int64(f.Key, f.Value)
}

func (f BoolField) apply(event eventAppender) eventAppender {
	return event.Bool(f.Key, f.Value)
}

func (f DurationField) apply(event eventAppender) eventAppender {
	return event.Dur(f.Key, f.Value)
}

func (f TimeField) apply(event eventAppender) eventAppender {
	return event.Time(f.Key, f.Value)
}

func (f ErrorField) apply(event eventAppender) eventAppender {
	return event.Err(f.Value)
}

func (f AnyField) apply(event eventAppender) eventAppender {
	return event.Interface(f.Key, f.Value)
}

// zerologLogger implements Logger on top of zerolog
type zerologLogger struct {
	logger     zerolog.Logger
	level      LogLevel
	fileWriter *lumberjack.Logger
}

// New creates a Logger from the given configuration
func New(config *Config) Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var writers []io.Writer
	var fileWriter *lumberjack.Logger

	if config.FileConfig != nil {
		if err := os.MkdirAll(filepath.Dir(config.FileConfig.Filename), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		} else {
			fileWriter = &lumberjack.Logger{
				Filename:   config.FileConfig.Filename,
				MaxSize:    config.FileConfig.MaxSize,
				MaxAge:     config.FileConfig.MaxAge,
				MaxBackups: config.FileConfig.MaxBackups,
				Compress:   config.FileConfig.Compress,
				LocalTime:  true,
			}
			writers = append(writers, fileWriter)
		}
	}

	outputs := config.Outputs
	if len(outputs) == 0 && fileWriter == nil {
		outputs = []io.Writer{os.Stderr}
	}
	for _, output := range outputs {
		if config.Format == ConsoleFormat {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: "15:04:05",
				PartsOrder: []string{
					zerolog.TimestampFieldName,
					zerolog.LevelFieldName,
					"module",
					zerolog.MessageFieldName,
				},
			})
		} else {
			writers = append(writers, output)
		}
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(writer).Level(zerologLevel(config.Level)).With().Timestamp().Logger()
	if config.Subsystem != "" {
		zl = zl.With().Str("module", config.Subsystem).Logger()
	}

	return &zerologLogger{
		logger:     zl,
		level:      config.Level,
		fileWriter: fileWriter,
	}
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func (zl *zerologLogger) log(event *zerolog.Event, msg string, fields []TypedField) {
	for _, f := range fields {
		event = f.apply(event)
	}
	event.Msg(msg)
}

func (zl *zerologLogger) Trace(msg string, fields ...TypedField) {
	zl.log(zl.logger.Trace(), msg, fields)
}

func (zl *zerologLogger) Debug(msg string, fields ...TypedField) {
	zl.log(zl.logger.Debug(), msg, fields)
}

func (zl *zerologLogger) Info(msg string, fields ...TypedField) {
	zl.log(zl.logger.Info(), msg, fields)
}

func (zl *zerologLogger) Warn(msg string, fields ...TypedField) {
	zl.log(zl.logger.Warn(), msg, fields)
}

func (zl *zerologLogger) Error(msg string, fields ...TypedField) {
	zl.log(zl.logger.Error(), msg, fields)
}

func (zl *zerologLogger) Fatal(msg string, fields ...TypedField) {
	zl.log(zl.logger.Fatal(), msg, fields)
}

// WithSubsystem derives a logger tagged with a module name. Nested
// subsystems are joined with dots: "graph.tokens".
func (zl *zerologLogger) WithSubsystem(name string) Logger {
	derived := zl.logger.With().Str("module", name).Logger()
	return &zerologLogger{
		logger:     derived,
		level:      zl.level,
		fileWriter: zl.fileWriter,
	}
}

func (zl *zerologLogger) WithFields(fields ...TypedField) Logger {
	ctx := zl.logger.With()
	for _, f := range fields {
		switch v := f.(type) {
		case StringField:
			ctx = ctx.Str(v.Key, v.Value)
		case IntField:
			ctx = ctx.Int(v.Key, v.Value)
		case Int64Field:
			ctx = ctx.Int64(v.Key, v.Value)
		case BoolField:
			ctx = ctx.Bool(v.Key, v.Value)
		case DurationField:
			ctx = ctx.Dur(v.Key, v.Value)
		case TimeField:
			ctx = ctx.Time(v.Key, v.Value)
		case ErrorField:
			ctx = ctx.Err(v.Value)
		case AnyField:
			ctx = ctx.Interface(v.Key, v.Value)
		}
	}
	return &zerologLogger{
		logger:     ctx.Logger(),
		level:      zl.level,
		fileWriter: zl.fileWriter,
	}
}

func (zl *zerologLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= zl.level
}

func (zl *zerologLogger) Close() error {
	if zl.fileWriter != nil {
		return zl.fileWriter.Close()
	}
	return nil
}
