package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("SURREAL_URL", "ws://localhost:8000/rpc")
	t.Setenv("SURREAL_NS", "chat")
	t.Setenv("SURREAL_DB", "room")
	t.Setenv("SURREAL_USER", "root")
	t.Setenv("SURREAL_PASS", "secret")
	t.Setenv("DB_QUERY_TIMEOUT", "750ms")
	t.Setenv("DB_EXECUTE_TIMEOUT", "3")
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("ATTACHMENT_BASE_URL", "")
	t.Setenv("CHAT_UID", "alice")
	t.Setenv("CHAT_DISPLAY_NAME", "")

	cfg := FromEnv()

	assert.Equal(t, "ws://localhost:8000/rpc", cfg.GetDBURL())
	assert.Equal(t, "chat", cfg.GetDBNs())
	assert.Equal(t, "room", cfg.GetDBDb())
	assert.Equal(t, "root", cfg.GetDBUser())
	assert.Equal(t, "secret", cfg.GetDBPass())
	assert.Equal(t, 750*time.Millisecond, cfg.GetDBQueryTimeout())
	assert.Equal(t, 3*time.Second, cfg.GetDBExecuteTimeout())
	assert.Equal(t, "http://localhost:9090", cfg.AttachmentBaseURL)
	assert.Equal(t, "alice", cfg.UID)
	assert.Equal(t, defaultDisplayName, cfg.DisplayName)
	require.NoError(t, cfg.RequireDB())
}

func TestFromEnv_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("DB_QUERY_TIMEOUT", "soon")
	t.Setenv("DB_EXECUTE_TIMEOUT", "-5s")

	cfg := FromEnv()

	assert.Equal(t, defaultQueryTimeout, cfg.GetDBQueryTimeout())
	assert.Equal(t, defaultExecuteTimeout, cfg.GetDBExecuteTimeout())
}

func TestRequireDB_NamesMissingVariables(t *testing.T) {
	t.Setenv("SURREAL_URL", "")
	t.Setenv("SURREAL_NS", "chat")
	t.Setenv("SURREAL_DB", "")

	err := FromEnv().RequireDB()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SURREAL_URL")
	assert.Contains(t, err.Error(), "SURREAL_DB")
	assert.NotContains(t, err.Error(), "SURREAL_NS")
}
