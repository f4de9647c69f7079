package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetState(t *testing.T) {
	t.Helper()
	CloseAll()
	CloseAudit()
	logsDir = ""
	workspace = ""
	configMu.Lock()
	settings = Settings{}
	configMu.Unlock()
}

// TestAllCategoriesLog tests that all categories create log files when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	if err := Configure(tempDir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to configure logging: %v", err)
	}
	defer resetState(t)

	if !IsDebugMode() {
		t.Fatal("Expected debug mode to be enabled")
	}

	for _, cat := range AllCategories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}
		Get(cat).Info("Test info message for %s", cat)
	}
	Session("Convenience session log")
	BootDebug("Convenience boot debug")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	for _, cat := range AllCategories {
		path := filepath.Join(tempDir, ".snipex", "logs", date+"_"+string(cat)+".log")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("Expected log file for %s: %v", cat, err)
			continue
		}
		if !strings.Contains(string(data), "Test info message for "+string(cat)) {
			t.Errorf("Log file for %s missing message, got: %q", cat, data)
		}
	}
}

func TestDisabledModeIsNoop(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	if err := Configure(tempDir, Settings{}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer resetState(t)
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit failed: %v", err)
	}

	if IsDebugMode() {
		t.Fatal("Expected debug mode to be disabled")
	}

	Get(CategorySession).Info("should not be written")
	Audit().SessionCreate("s1", "e1", "audience")

	if _, err := os.Stat(filepath.Join(tempDir, ".snipex", "logs")); !os.IsNotExist(err) {
		t.Errorf("Expected no logs directory in production mode, stat err = %v", err)
	}
}

func TestCategoryFilter(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	err := Configure(tempDir, Settings{
		DebugMode:  true,
		Categories: map[string]bool{"store": false},
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer resetState(t)

	if IsCategoryEnabled(CategoryStore) {
		t.Error("store category should be disabled")
	}
	if !IsCategoryEnabled(CategorySession) {
		t.Error("unlisted categories should default to enabled")
	}
}

func TestAuditWritesJSONLines(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	if err := Configure(tempDir, Settings{DebugMode: true, JSONFormat: true}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer resetState(t)
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit failed: %v", err)
	}

	Audit().SessionCreate("sess-1", "el-1", "audience")
	Audit().SessionCancel("sess-1", "audience", "window_closed")
	CloseAudit()

	data, err := os.ReadFile(filepath.Join(tempDir, ".snipex", "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], `"event":"session_create"`) {
		t.Errorf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"origin":"window_closed"`) {
		t.Errorf("unexpected second line: %s", lines[1])
	}
}

func TestTimerThreshold(t *testing.T) {
	timer := StartTimer(CategoryCommit, "noop")
	if d := timer.StopWithThreshold(time.Hour); d <= 0 {
		t.Errorf("expected positive duration, got %v", d)
	}
}
