package logger

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timeKey   = "time"
	levelKey  = "level"
	sourceKey = "source"
	msgKey    = "msg"
)

var (
	sugarLogger *zap.SugaredLogger
	initOnce    sync.Once
)

// getProjectRoot finds the project root directory by looking for go.mod file.
func getProjectRoot() string {
	_, currentFile, _, ok := runtime.Caller(0)
	var currentDir string
	if !ok || currentFile == "" {
		wd, _ := os.Getwd()
		currentDir = wd
	} else {
		currentDir = filepath.Dir(currentFile)
	}

	for {
		goModPath := filepath.Join(currentDir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return currentDir
		}

		parent := filepath.Dir(currentDir)
		if parent == currentDir {
			wd, _ := os.Getwd()
			return wd
		}
		currentDir = parent
	}
}

// getLogPath returns the absolute path to the log file in the project root.
func getLogPath() string {
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(getProjectRoot(), "logs")
	} else if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(getProjectRoot(), logDir)
	}

	return filepath.Join(logDir, "coderunner.log")
}

// level reads LOG_LEVEL, falling back to info for empty or unknown values.
func level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func initializeLogger() {
	logPath := getLogPath()

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		logPath = "coderunner.log"
	}

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50,
		MaxBackups: 10,
		MaxAge:     28,
		Compress:   true,
		LocalTime:  true,
	})

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        timeKey,
		LevelKey:       levelKey,
		NameKey:        sourceKey,
		MessageKey:     msgKey,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	lvl := zap.NewAtomicLevelAt(level())

	// The file gets JSON so it can be shipped as is; stdout stays readable.
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), w, lvl)
	stdCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), lvl)

	core := zapcore.NewTee(fileCore, stdCore)

	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	sugarLogger = log.Sugar()
}

// NewNamedLogger creates a new named SugaredLogger for a given component.
func NewNamedLogger(name string) *zap.SugaredLogger {
	initOnce.Do(initializeLogger)
	return sugarLogger.Named(name)
}

// Sync flushes buffered log entries. Call it once before the process exits.
func Sync() {
	if sugarLogger != nil {
		_ = sugarLogger.Sync()
	}
}
