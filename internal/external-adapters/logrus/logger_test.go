package logrus

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ochairo/sorepair/internal/domain/interfaces"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "info")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	log.Debug("hidden")
	log.Info("bundled library", interfaces.F("name", "libfoo.so.1"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message written at info level: %q", out)
	}
	if !strings.Contains(out, "bundled library") || !strings.Contains(out, "name=libfoo.so.1") {
		t.Errorf("output = %q, want message with name field", out)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "debug")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	log.With(interfaces.F("target", "ext.so")).Warn("repair skipped")
	if out := buf.String(); !strings.Contains(out, "target=ext.so") || !strings.Contains(out, "warning") {
		t.Errorf("output = %q, want warning with target field", out)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(&bytes.Buffer{}, "loud"); err == nil {
		t.Error("NewLogger() should reject an unknown level")
	}
}
