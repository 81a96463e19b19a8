package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupWithOptionsRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("mavunod", "test", Options{Output: &buf, Level: "debug"})
	defer closer.Close()

	logger.Debug("pool created", "currency", "NGN")
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
	if line["severity"] != "DEBUG" || line["message"] != "pool created" || line["currency"] != "NGN" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestSetupWithOptionsFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := SetupWithOptions("mavunod", "", Options{Output: &buf, Level: "warn"})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered: %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn line missing")
	}
}

func TestSetupWithOptionsTeesToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "mavunod.log")
	_, closer := SetupWithOptions("mavunod", "", Options{Output: &buf, FilePath: path})
	log.Print("bridged line")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("bridged line")) || !bytes.Contains(buf.Bytes(), []byte("bridged line")) {
		t.Fatalf("standard logger not bridged to both outputs: file=%q stdout=%q", data, buf.String())
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("webhook_secret", "s3cret"); attr.Value.String() != RedactedValue {
		t.Fatalf("secret not masked: %v", attr)
	}
	if attr := MaskField("currency", "NGN"); attr.Value.String() != "NGN" {
		t.Fatalf("plain key masked: %v", attr)
	}
	if attr := MaskField("jwt_secret", " "); attr.Value.String() != " " {
		t.Fatalf("empty values should pass through: %v", attr)
	}
}

func TestHandlerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := SetupWithOptions("mavunod", "", Options{Output: &buf})
	logger.Info("webhook rejected", "X-Mavuno-Signature", "abc123", "reference", "PAY-1")
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["X-Mavuno-Signature"] != RedactedValue || line["reference"] != "PAY-1" {
		t.Fatalf("unexpected redaction %v", line)
	}
}
