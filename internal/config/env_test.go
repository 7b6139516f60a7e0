package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnvSetsValues(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, ".env")
	content := "APCA_API_KEY_ID=abc123\nAPCA_API_SECRET_KEY=shh\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	unsetEnv(t, "APCA_API_KEY_ID")
	unsetEnv(t, "APCA_API_SECRET_KEY")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv error: %v", err)
	}

	if got := os.Getenv("APCA_API_KEY_ID"); got != "abc123" {
		t.Fatalf("expected key to be set, got %q", got)
	}
	if got := os.Getenv("APCA_API_SECRET_KEY"); got != "shh" {
		t.Fatalf("expected secret to be set, got %q", got)
	}
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, ".env")
	content := "BOT_TRADE_SYMBOL=from_file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("BOT_TRADE_SYMBOL", "from_env")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv error: %v", err)
	}

	if got := os.Getenv("BOT_TRADE_SYMBOL"); got != "from_env" {
		t.Fatalf("expected env to win, got %q", got)
	}
}

func TestLoadDotEnvIfPresentIgnoresMissingFile(t *testing.T) {
	loadDotEnvIfPresent(filepath.Join(t.TempDir(), "missing.env"))
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset env: %v", err)
	}
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}
