package observability

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"mini-xpc/config"
)

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "xpc.log")
	logger, err := SetupLogger(config.LogConfig{
		Level:   "debug",
		Format:  "json",
		Outputs: []string{path},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Debug("endpoint activated", zap.String("endpoint", "files"))
	log.Print("from stdlib")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "endpoint activated" || entry["endpoint"] != "files" || entry["level"] != "debug" {
		t.Errorf("entry: %v", entry)
	}
	if !strings.Contains(lines[1], "from stdlib") {
		t.Errorf("stdlib log not redirected: %s", lines[1])
	}
	if zap.L() != logger {
		t.Error("global logger not replaced")
	}
}

func TestSetupLoggerLevelFilter(t *testing.T) {
	dir := t.TempDir()
	logger, err := SetupLogger(config.LogConfig{
		Level:   "warn",
		Outputs: []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{
			Enable:   true,
			Filename: filepath.Join(dir, "rotated.log"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Info("dropped")
	logger.Warn("kept")
	logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "rotated.log"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), "kept") {
		t.Fatalf("unexpected contents: %s", data)
	}
}
