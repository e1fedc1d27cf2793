package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("debug message should not be logged at info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("expected msg 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warnf("warn %d", 1)
		if !strings.Contains(buf.String(), "warn 1") {
			t.Errorf("expected formatted warn message, got %s", buf.String())
		}
		buf.Reset()
		logger.Errorf("error %s", "x")
		if !strings.Contains(buf.String(), "error x") {
			t.Errorf("expected formatted error message, got %s", buf.String())
		}
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("identity_id", "id-1").
		WithFields(map[string]interface{}{"role": "manager", "scope": "org:a"}).
		WithError(errTest("boom")).
		Debug("resolved")

	entry := decodeEntry(t, &buf)
	for key, want := range map[string]string{
		"identity_id": "id-1",
		"role":        "manager",
		"scope":       "org:a",
		"error":       "boom",
	} {
		if entry[key] != want {
			t.Errorf("field %s: expected %q, got %v", key, want, entry[key])
		}
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	// must not panic or write anywhere
	logger.WithField("k", "v").Error("dropped")
	if logger.Level() <= ErrorLevel {
		t.Errorf("discard logger should sit above ErrorLevel, got %v", logger.Level())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{" warning ", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	if DebugLevel.String() != "DEBUG" || ErrorLevel.String() != "ERROR" {
		t.Error("unexpected level names")
	}
	if LogLevel(9).String() != "LEVEL(9)" {
		t.Errorf("unexpected name for unknown level: %s", LogLevel(9).String())
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetIdentityID(ctx) != "" {
		t.Fatal("empty context should carry no ids")
	}

	var buf bytes.Buffer
	ctx = WithLogger(ctx, NewLogger(InfoLevel, &buf))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithIdentityID(ctx, "id-7")

	FromContext(ctx).Info("hello")
	entry := decodeEntry(t, &buf)
	if entry["request_id"] != "req-1" {
		t.Errorf("expected request_id req-1, got %v", entry["request_id"])
	}
	if entry["identity_id"] != "id-7" {
		t.Errorf("expected identity_id id-7, got %v", entry["identity_id"])
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
