package util

import (
	"strings"
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("BOT_FLAG", "")
	if !ParseBoolEnv("BOT_FLAG", true) {
		t.Error("empty value should return the default")
	}
	for _, v := range []string{"true", "1", "YES", " on "} {
		t.Setenv("BOT_FLAG", v)
		if !ParseBoolEnv("BOT_FLAG", false) {
			t.Errorf("value %q should parse as true", v)
		}
	}
	for _, v := range []string{"false", "0", "No", "off"} {
		t.Setenv("BOT_FLAG", v)
		if ParseBoolEnv("BOT_FLAG", true) {
			t.Errorf("value %q should parse as false", v)
		}
	}
	t.Setenv("BOT_FLAG", "quizás")
	if !ParseBoolEnv("BOT_FLAG", true) {
		t.Error("invalid value should return the default")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("BOT_WORKERS", "")
	if got := ParseIntEnv("BOT_WORKERS", 2); got != 2 {
		t.Errorf("expected default 2, got %d", got)
	}
	t.Setenv("BOT_WORKERS", " 5 ")
	if got := ParseIntEnv("BOT_WORKERS", 2); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	t.Setenv("BOT_WORKERS", "cinco")
	if got := ParseIntEnv("BOT_WORKERS", 2); got != 2 {
		t.Errorf("expected default for invalid value, got %d", got)
	}
}

func TestGenerateRandomHex(t *testing.T) {
	s := GenerateRandomHex(16)
	if len(s) != 16 {
		t.Fatalf("expected 16 characters, got %d", len(s))
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("non-hex character %q in %q", r, s)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("zero length should yield an empty string")
	}
	if GenerateRandomHex(8) == GenerateRandomHex(8) {
		t.Error("two generated values should differ")
	}
}

func TestGeneratedIDs(t *testing.T) {
	task := GenerateTaskID()
	if !strings.HasPrefix(task, "task_") {
		t.Errorf("unexpected task id %q", task)
	}
	run := GenerateRunID()
	if !strings.HasPrefix(run, "run_") {
		t.Errorf("unexpected run id %q", run)
	}
	if GenerateRunID() == run {
		t.Error("run ids should be unique")
	}
}
