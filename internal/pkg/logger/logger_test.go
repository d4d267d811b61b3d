package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })
	return &buf
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"x@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"a@b@c", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogRedactsRecipientFields(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(DEBUG)
	defer SetLevel(INFO)

	Warn("delivery failed", "recipient", "john.doe@example.com")

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["level"] != "WARN" || entry["msg"] != "delivery failed" {
		t.Errorf("entry = %v", entry)
	}
	if entry["recipient"] != "jo***@example.com" {
		t.Errorf("recipient = %q, want redacted", entry["recipient"])
	}
}

func TestLogLeavesRecipientCountsAlone(t *testing.T) {
	buf := captureOutput(t)

	Info("batch accepted", "recipients", 42)

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["recipients"] != "42" {
		t.Errorf("recipients = %q, want the count untouched", entry["recipients"])
	}
}

func TestLogRedactsEmbeddedEmails(t *testing.T) {
	buf := captureOutput(t)

	Error("send failed", "error", "550 mailbox john.doe@example.com unavailable")

	if strings.Contains(buf.String(), "john.doe@example.com") {
		t.Error("embedded email address leaked into log output")
	}
	if !strings.Contains(buf.String(), "jo***@example.com") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(ERROR)
	defer SetLevel(INFO)

	Info("should not appear")
	if buf.Len() != 0 {
		t.Errorf("INFO logged below ERROR threshold: %s", buf.String())
	}

	Error("should appear")
	if buf.Len() == 0 {
		t.Error("ERROR entry was dropped")
	}
}
