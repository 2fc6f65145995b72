package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Logger is the structured logger every component receives
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
}

// Fields are structured key/value pairs attached to an entry
type Fields map[string]interface{}

// Config selects level, format and destination
type Config struct {
	Level  Level  `json:"level" mapstructure:"level"`
	Format Format `json:"format" mapstructure:"format"`
	Output Output `json:"output" mapstructure:"output"`
	// File is required when Output is "file"
	File string `json:"file,omitempty" mapstructure:"file"`
}

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levels = map[Level]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
}

type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

type Output string

const (
	StdoutOutput  Output = "stdout"
	StderrOutput  Output = "stderr"
	FileOutput    Output = "file"
	DiscardOutput Output = "discard"
)

// DefaultConfig is what the CLI uses before configuration is loaded
func DefaultConfig() *Config {
	return &Config{Level: InfoLevel, Format: TextFormat, Output: StderrOutput}
}

// ProductionConfig suits the API server behind a log collector
func ProductionConfig() *Config {
	return &Config{Level: InfoLevel, Format: JSONFormat, Output: StdoutOutput}
}

// Validate checks every field against its known values
func (c *Config) Validate() error {
	if _, ok := levels[c.Level]; !ok {
		return errors.Errorf("invalid log level: %q", c.Level)
	}
	switch c.Format {
	case JSONFormat, TextFormat:
	default:
		return errors.Errorf("invalid log format: %q", c.Format)
	}
	switch c.Output {
	case StdoutOutput, StderrOutput, DiscardOutput:
	case FileOutput:
		if strings.TrimSpace(c.File) == "" {
			return errors.New("log file path is required for file output")
		}
	default:
		return errors.Errorf("invalid log output: %q", c.Output)
	}
	return nil
}

type entryLogger struct {
	entry *logrus.Entry
}

// NewLogger builds a logger from config; nil means DefaultConfig
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid logger configuration")
	}

	w, err := openOutput(config)
	if err != nil {
		return nil, err
	}
	return newEntryLogger(w, config.Level, config.Format, false), nil
}

// NewWithWriter builds a logger writing to w without timestamps
func NewWithWriter(w io.Writer, level Level, format Format) Logger {
	return newEntryLogger(w, level, format, true)
}

// NewNopLogger returns a logger that drops everything
func NewNopLogger() Logger {
	return NewWithWriter(io.Discard, ErrorLevel, TextFormat)
}

func newEntryLogger(w io.Writer, level Level, format Format, noTime bool) *entryLogger {
	base := logrus.New()
	base.SetOutput(w)
	if lvl, ok := levels[level]; ok {
		base.SetLevel(lvl)
	}
	if format == JSONFormat {
		base.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: noTime})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: noTime,
			FullTimestamp:    !noTime,
			TimestampFormat:  "2006-01-02 15:04:05",
		})
	}
	return &entryLogger{entry: logrus.NewEntry(base)}
}

func openOutput(config *Config) (io.Writer, error) {
	switch config.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case DiscardOutput:
		return io.Discard, nil
	case FileOutput:
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create log directory")
		}
		f, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open log file")
		}
		return f, nil
	}
	return os.Stderr, nil
}

func (l *entryLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *entryLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *entryLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *entryLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *entryLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *entryLogger) WithField(key string, value interface{}) Logger {
	return &entryLogger{entry: l.entry.WithField(key, value)}
}

func (l *entryLogger) WithFields(fields Fields) Logger {
	return &entryLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *entryLogger) WithError(err error) Logger {
	return &entryLogger{entry: l.entry.WithError(err)}
}

// WithComponent tags entries with the emitting package
func (l *entryLogger) WithComponent(component string) Logger {
	return l.WithField("component", component)
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewWithWriter(os.Stderr, InfoLevel, TextFormat)
)

// SetGlobalLogger replaces the process-wide logger, once config is loaded
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}
