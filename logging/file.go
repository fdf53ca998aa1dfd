package logging

import (
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls rotation of a log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

type fileLogger struct {
	impl
	file *lumberjack.Logger
}

// Close flushes and closes the log file.
func (l *fileLogger) Close() error {
	return multierr.Combine(l.impl.Sync(), l.file.Close())
}

// NewFileTeeLogger returns a logger writing to the console like NewLogger or
// NewDebugLogger and, as JSON, to a rotated log file. Close the returned closer
// once done logging.
func NewFileTeeLogger(name string, debug bool, fileCfg FileConfig) (Logger, io.Closer, error) {
	cfg := NewLoggerConfig()
	if debug {
		cfg.Level.SetLevel(zap.DebugLevel)
	}
	console, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}

	if fileCfg.MaxSizeMB == 0 {
		fileCfg.MaxSizeMB = 100
	}
	file := &lumberjack.Logger{
		Filename:   fileCfg.Path,
		MaxSize:    fileCfg.MaxSizeMB,
		MaxBackups: fileCfg.MaxBackups,
		Compress:   fileCfg.Compress,
	}
	encCfg := cfg.EncoderConfig
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), cfg.Level)

	logger := console.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})).Named(name)
	l := &fileLogger{impl: impl{logger.Sugar()}, file: file}
	return l, l, nil
}
