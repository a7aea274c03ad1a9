package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("poller")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "poller" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "app.log")
	log := Logger()
	if err := log.Configure("debug", "json", path, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	log.WithComponent("test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"message":"hello"`)) {
		t.Fatalf("log line not written: %s", data)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.WithComponent("matcher").Info("ranked")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	for _, key := range []string{"timestamp", "level", "message", "component"} {
		if _, ok := line[key]; !ok {
			t.Errorf("missing key %q in %v", key, line)
		}
	}
}

func TestWarnAndErrorCounts(t *testing.T) {
	ResetCounts()
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	log.WithComponent("bitget_venue").Warn("slow")
	log.WithComponent("bitget_venue").Warn("slow again")
	log.WithComponent("bitget_venue").Error("down")

	got := Counts()["bitget_venue"]
	if got.Warnings != 2 || got.Errors != 1 {
		t.Fatalf("unexpected counts: %+v", got)
	}
}
