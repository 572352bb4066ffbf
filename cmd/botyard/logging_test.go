package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "WARN", "json")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", logger.GetLevel())
	}

	logger.Info().Msg("hidden")
	logger.Warn().Str("bot", "alice_bot").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered, got: %s", out)
	}
	if !strings.Contains(out, `"bot":"alice_bot"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected json warn line, got: %s", out)
	}
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "console")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected console output, got: %s", buf.String())
	}
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("console output should not be json, got: %s", buf.String())
	}
}

func TestNewLogger_EmptyLevelIsInfo(t *testing.T) {
	logger, err := newLogger(&bytes.Buffer{}, "", "")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v, want info", logger.GetLevel())
	}
}

func TestNewLogger_Invalid(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := newLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
