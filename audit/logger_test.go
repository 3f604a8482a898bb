package audit

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditAll(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"NewLoggerDisabled", testNewLoggerDisabled},
		{"NewLoggerUnknown", testNewLoggerUnknown},
		{"NewEventLiftsKnownFields", testNewEventLiftsKnownFields},
		{"FileLoggerWriteAndQuery", testFileLoggerWriteAndQuery},
		{"FileLoggerReopensAfterClose", testFileLoggerReopensAfterClose},
		{"FileLoggerQueryFromDisk", testFileLoggerQueryFromDisk},
		{"LogrusLogger", testLogrusLogger},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testNewLoggerDisabled(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.IsType(t, NoOpLogger{}, logger)

	logger, err = NewLogger(&Config{Enabled: false, Type: FileAuditType})
	require.NoError(t, err)
	assert.IsType(t, NoOpLogger{}, logger)
	assert.NoError(t, logger.Log("X", true, nil))
}

func testNewLoggerUnknown(t *testing.T) {
	_, err := NewLogger(&Config{Enabled: true, Type: "carrier-pigeon"})
	assert.Error(t, err)
}

func testNewEventLiftsKnownFields(t *testing.T) {
	event := newEvent("vault-1", "CREATE_RECORD_COMPLETED", true, map[string]interface{}{
		"request_id": "v_1",
		"record_id":  "rec-1",
		"user_id":    "alice",
		"timestamp":  time.Now(),
		"template":   "login",
	})

	assert.Equal(t, "vault-1", event.VaultID)
	assert.Equal(t, "v_1", event.RequestID)
	assert.Equal(t, "rec-1", event.RecordID)
	assert.Equal(t, "alice", event.UserID)
	assert.Equal(t, map[string]interface{}{"template": "login"}, event.Metadata)
}

func newTestFileLogger(t *testing.T) (*FileLogger, string) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		VaultID: "test-vault",
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": path, "cache_size": 3},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func testFileLoggerWriteAndQuery(t *testing.T) {
	logger, _ := newTestFileLogger(t)
	since := time.Now().UTC().Add(-time.Second)

	require.NoError(t, logger.Log("UNLOCK_COMPLETED", true, map[string]interface{}{"request_id": "r1"}))
	require.NoError(t, logger.Log("CREATE_RECORD_COMPLETED", true, map[string]interface{}{"record_id": "a"}))
	require.NoError(t, logger.Log("CREATE_RECORD_FAILED", false, map[string]interface{}{"error": "vault is locked"}))

	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalCount)
	assert.Len(t, result.Events, 3)
	assert.Equal(t, "CREATE_RECORD_FAILED", result.Events[0].Action, "newest first")

	failed := false
	result, err = logger.Query(QueryOptions{Success: &failed})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "vault is locked", result.Events[0].Error)

	result, err = logger.Query(QueryOptions{RecordID: "a", Since: &since})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	result, err = logger.Query(QueryOptions{KeyAccess: true})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "UNLOCK_COMPLETED", result.Events[0].Action)

	result, err = logger.Query(QueryOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, result.Events, 2)
	assert.True(t, result.HasMore)
}

func testFileLoggerReopensAfterClose(t *testing.T) {
	logger, _ := newTestFileLogger(t)
	require.NoError(t, logger.Log("A", true, nil))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Log("B", true, nil))

	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Filtered)
}

func testFileLoggerQueryFromDisk(t *testing.T) {
	logger, path := newTestFileLogger(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log("STEP", true, nil))
	}

	// a fresh logger has an empty cache and must read the file
	other, err := NewFileLogger(&Config{Enabled: true, Options: map[string]interface{}{"file_path": path}})
	require.NoError(t, err)
	defer other.Close()

	result, err := other.Query(QueryOptions{Action: "STEP"})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Filtered)
}

func testLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.DebugLevel)

	logger, err := NewLogrusLogger(&Config{Enabled: true, VaultID: "v"}, base)
	require.NoError(t, err)

	require.NoError(t, logger.Log("KDF_ROTATION_FAILED", false, map[string]interface{}{
		"request_id": "v_9",
		"error":      "incorrect password",
	}))

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "KDF_ROTATION_FAILED", entry["action"])
	assert.Equal(t, "v_9", entry["request_id"])
	assert.Equal(t, "incorrect password", entry["error"])

	result, err := logger.Query(QueryOptions{Action: "KDF_ROTATION_FAILED"})
	require.NoError(t, err)
	assert.Len(t, result.Events, 1)
}
