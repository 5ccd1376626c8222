package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncclient/internal/sync"
)

func TestNewSyncCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newSyncCmd()
	assert.Equal(t, "sync", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("watch"))
}

func TestPrintReportText_AlreadyInSync(t *testing.T) {
	old := flagQuiet
	flagQuiet = false
	t.Cleanup(func() { flagQuiet = old })

	report := &sync.Report{Duration: 10 * time.Millisecond}

	// Should not panic and should report "Already in sync".
	printReportText(report)
}

func TestPrintReportText_Canceled(t *testing.T) {
	old := flagQuiet
	flagQuiet = false
	t.Cleanup(func() { flagQuiet = old })

	report := &sync.Report{Duration: time.Second, Canceled: true}

	printReportText(report)
}

func TestPrintReportText_WithActivityAndConflicts(t *testing.T) {
	old := flagQuiet
	flagQuiet = false
	t.Cleanup(func() { flagQuiet = old })

	report := &sync.Report{
		Duration:          time.Second,
		Uploaded:          2,
		Downloaded:        1,
		CreatedRemoteDirs: 1,
		CreatedLocalDirs:  1,
		DeletedLocal:      1,
		DeletedRemote:     1,
		Conflicts:         1,
	}

	printReportText(report)
}

func TestPrintReportJSON_RoundTrips(t *testing.T) {
	report := &sync.Report{
		Duration:   5 * time.Second,
		Uploaded:   3,
		Downloaded: 4,
		Conflicts:  2,
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	require.NoError(t, enc.Encode(report))

	var decoded sync.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report.Uploaded, decoded.Uploaded)
	assert.Equal(t, report.Downloaded, decoded.Downloaded)
	assert.Equal(t, report.Conflicts, decoded.Conflicts)
}

func TestPrintReport_JSONFlag(t *testing.T) {
	oldJSON := flagJSON
	flagJSON = true
	t.Cleanup(func() { flagJSON = oldJSON })

	err := printReport(&sync.Report{Duration: time.Millisecond})
	require.NoError(t, err)
}

func TestPrintReport_TextFlag(t *testing.T) {
	oldJSON := flagJSON
	flagJSON = false
	t.Cleanup(func() { flagJSON = oldJSON })

	err := printReport(&sync.Report{Duration: time.Millisecond})
	require.NoError(t, err)
}
