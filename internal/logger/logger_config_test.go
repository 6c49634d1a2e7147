package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		env  string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"loud", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Setenv("LOG_LEVEL", tt.env)
		if got := level(); got != tt.want {
			t.Fatalf("LOG_LEVEL=%q: expected %s, got %s", tt.env, tt.want, got)
		}
	}
}

func TestGetLogPath(t *testing.T) {
	abs := t.TempDir()
	t.Setenv("LOG_DIR", abs)
	if got := getLogPath(); got != filepath.Join(abs, "coderunner.log") {
		t.Fatalf("expected log in %s, got %s", abs, got)
	}

	t.Setenv("LOG_DIR", "var/log")
	want := filepath.Join(getProjectRoot(), "var", "log", "coderunner.log")
	if got := getLogPath(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNewNamedLogger(t *testing.T) {
	t.Setenv("LOG_DIR", t.TempDir())
	l := NewNamedLogger("test")
	if l == nil {
		t.Fatalf("expected a logger")
	}
	l.Infof("logger works")
	Sync()
}
