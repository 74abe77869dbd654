package internal

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestSetLogLevel(t *testing.T) {
	originalLevel := logLevel
	defer SetLogLevel(originalLevel)

	SetLogLevel(LogLevelDebug)
	if logLevel != LogLevelDebug {
		t.Errorf("SetLogLevel() logLevel = %v, want LogLevelDebug", logLevel)
	}

	SetLogLevel(LogLevelError)
	if logLevel != LogLevelError {
		t.Errorf("SetLogLevel() logLevel = %v, want LogLevelError", logLevel)
	}
}

func TestSetVerbose(t *testing.T) {
	originalLevel := logLevel
	defer SetLogLevel(originalLevel)

	SetVerbose(true)
	if logLevel != LogLevelDebug {
		t.Errorf("SetVerbose(true) logLevel = %v, want LogLevelDebug", logLevel)
	}

	SetVerbose(false)
	if logLevel != LogLevelInfo {
		t.Errorf("SetVerbose(false) logLevel = %v, want LogLevelInfo", logLevel)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"error", LogLevelError},
		{"WARN", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"info", LogLevelInfo},
		{" debug ", LogLevelDebug},
		{"", LogLevelInfo},
		{"chatty", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigureLogger(t *testing.T) {
	originalLevel := logLevel
	defer func() {
		SetLogLevel(originalLevel)
		ConfigureLogger(os.Stderr, "text")
	}()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		ConfigureLogger(&buf, "json")
		SetLogLevel(LogLevelInfo)

		LogInfo("reconstructed %d step(s)", 3)

		var entry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
		}
		if entry["msg"] != "reconstructed 3 step(s)" {
			t.Errorf("msg = %v, want %q", entry["msg"], "reconstructed 3 step(s)")
		}
		if entry["level"] != "INFO" {
			t.Errorf("level = %v, want INFO", entry["level"])
		}
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		ConfigureLogger(&buf, "text")
		SetLogLevel(LogLevelWarn)

		LogInfo("hidden")
		LogDebug("hidden too")
		LogWarn("shown")

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Errorf("output should not contain filtered messages, got %q", out)
		}
		if !strings.Contains(out, "shown") {
			t.Errorf("output should contain warning, got %q", out)
		}
	})
}

func TestLogLevels(t *testing.T) {
	if LogLevelError >= LogLevelWarn {
		t.Error("LogLevelError should be less than LogLevelWarn")
	}
	if LogLevelWarn >= LogLevelInfo {
		t.Error("LogLevelWarn should be less than LogLevelInfo")
	}
	if LogLevelInfo >= LogLevelDebug {
		t.Error("LogLevelInfo should be less than LogLevelDebug")
	}
}
