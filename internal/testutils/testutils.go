package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/nfrund/roomsync/internal/config"
	"github.com/nfrund/roomsync/internal/logging"
)

// ConfigForTests loads .env.test from the project root, if present, and
// returns a config with a complete database section. The test is skipped in
// -short mode or when no database is configured.
func ConfigForTests(t testing.TB) *config.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	root, err := projectRoot()
	if err != nil {
		t.Fatalf("could not find project root with go.mod: %v", err)
	}

	env, err := godotenv.Read(filepath.Join(root, ".env.test"))
	if err == nil {
		for key, value := range env {
			t.Setenv(key, value)
		}
	}
	if os.Getenv("SURREAL_URL") == "" {
		t.Skip("SURREAL_URL not set; add it to .env.test to run integration tests")
	}

	cfg := config.FromEnv()
	logging.New()
	if err := cfg.RequireDB(); err != nil {
		t.Fatalf("invalid test database configuration: %v", err)
	}
	return cfg
}

// projectRoot walks up from the working directory to the directory holding go.mod.
func projectRoot() (string, error) {
	path, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path, nil
		}
		if path == filepath.Dir(path) {
			return "", os.ErrNotExist
		}
		path = filepath.Dir(path)
	}
}
