package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TaskConfig describes the per-task log files.
type TaskConfig struct {
	Dir        string
	TaskID     int64
	Verbose    int
	MaxSizeMB  int
	MaxBackups int
}

// TaskFile returns the path of a per-task artifact, e.g. TaskFile(dir, 7, "log").
func TaskFile(dir string, id int64, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("bibsched_task_%d.%s", id, ext))
}

// VerbosityLevel maps the 0..9 task verbosity onto a log level.
func VerbosityLevel(v int) zapcore.Level {
	switch {
	case v <= 0:
		return zapcore.WarnLevel
	case v >= 9:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewTask tees base into the task's .log file (at the verbosity level) and
// .err file (warnings and above). Both files rotate by size. The returned
// func flushes and closes them.
func NewTask(base *zap.Logger, cfg TaskConfig) (*zap.Logger, func() error, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("log dir: %w", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}

	logFile := &lumberjack.Logger{
		Filename:   TaskFile(cfg.Dir, cfg.TaskID, "log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	errFile := &lumberjack.Logger{
		Filename:   TaskFile(cfg.Dir, cfg.TaskID, "err"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		base.Core(),
		zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(logFile), VerbosityLevel(cfg.Verbose)),
		zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(errFile), zapcore.WarnLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).With(zap.Int64("task_id", cfg.TaskID))

	closeFn := func() error {
		_ = logger.Sync()
		err1 := logFile.Close()
		err2 := errFile.Close()
		if err1 != nil {
			return err1
		}
		return err2
	}
	return logger, closeFn, nil
}
