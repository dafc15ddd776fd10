package main

import (
	"os"
	"testing"

	"github.com/openscribe/syncd/internal/config"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("SYNCD_TEST_INT", "42")
	if got := intEnv("SYNCD_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("SYNCD_TEST_INT_BAD", "not-a-number")
	if got := intEnv("SYNCD_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestStringEnvPrefersEnvironment(t *testing.T) {
	t.Setenv("SYNCD_TEST_STRING", "from-env")
	if got := stringEnv("SYNCD_TEST_STRING", "from-file"); got != "from-env" {
		t.Fatalf("expected env to win, got %q", got)
	}
	_ = os.Unsetenv("SYNCD_TEST_STRING_UNSET")
	if got := stringEnv("SYNCD_TEST_STRING_UNSET", "from-file"); got != "from-file" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestUpdateLogPathDefault(t *testing.T) {
	if got := updateLogPath(config.Config{}); got != "syncd-updates.db" {
		t.Fatalf("expected default path, got %q", got)
	}
	if got := updateLogPath(config.Config{UpdateLogPath: "/tmp/u.db"}); got != "/tmp/u.db" {
		t.Fatalf("expected configured path, got %q", got)
	}
}
