package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusCmd_Structure(t *testing.T) {
	cmd := newStatusCmd()
	assert.Equal(t, "status", cmd.Name())
	assert.NotEmpty(t, cmd.Short)
	assert.NotNil(t, cmd.RunE)
}

func TestPrintStatusJSON(t *testing.T) {
	out := &statusOutput{
		ServerURL:        "https://dav.example.com",
		SyncFolder:       "/home/user/sync",
		EncryptionState:  "enabled",
		Paused:           true,
		PausedUntil:      "2099-01-01T00:00:00Z",
		TrackedItems:     3,
		TrackedBytes:     1024,
		PendingConflicts: 1,
		LastSyncEvent:    "sync_complete at 2026-01-01T00:00:00Z",
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	require.NoError(t, enc.Encode(out))

	var decoded statusOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, *out, decoded)
}

func TestStatusOutput_EncryptionStateOmitsPausedUntilWhenEmpty(t *testing.T) {
	out := &statusOutput{
		ServerURL:       "https://dav.example.com",
		SyncFolder:      "/home/user/sync",
		EncryptionState: "disabled",
	}

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "paused_until")
	assert.NotContains(t, string(data), "last_sync_event")
}
