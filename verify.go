package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/store"
)

// errVerifyMismatch is returned by runVerify when any path fails
// verification, letting main map it to exit code 1 without the command
// itself calling os.Exit (which would skip deferred cleanup).
var errVerifyMismatch = errors.New("verification found mismatches")

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify local files against the tracked state",
		Long: `Recompute the content hash of every locally tracked file and compare it
against the state database. Reports files that are missing locally, whose
size differs, or whose content hash no longer matches what was recorded at
the last sync.

Exit code 0 if everything verifies; exit code 1 if any mismatch is found.`,
		RunE: runVerify,
	}
}

// verifyMismatch describes one path whose on-disk state diverges from
// what the state database recorded.
type verifyMismatch struct {
	Path     string `json:"path"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

type verifyReport struct {
	Verified   int              `json:"verified"`
	Mismatches []verifyMismatch `json:"mismatches"`
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	if cfg.Remote.SyncFolder == "" {
		return fmt.Errorf("remote.sync_folder not configured — run 'syncclient configure' first")
	}

	st, err := openStore(cc.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := verifyTree(cmd.Context(), st, cfg.Remote.SyncFolder)
	if err != nil {
		return err
	}

	if flagJSON {
		if err := printVerifyJSON(report); err != nil {
			return err
		}
	} else {
		printVerifyTable(report)
	}

	if len(report.Mismatches) > 0 {
		return errVerifyMismatch
	}

	return nil
}

func verifyTree(ctx context.Context, st *store.Store, syncRoot string) (*verifyReport, error) {
	items, err := st.ListAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tracked items: %w", err)
	}

	report := &verifyReport{}

	for _, item := range items {
		if item.IsDirectory {
			continue
		}

		mismatch, err := verifyOne(syncRoot, item)
		if err != nil {
			return nil, err
		}

		if mismatch != nil {
			report.Mismatches = append(report.Mismatches, *mismatch)
			continue
		}

		report.Verified++
	}

	return report, nil
}

func verifyOne(syncRoot string, item *store.FileRecord) (*verifyMismatch, error) {
	path := filepath.Join(syncRoot, filepath.FromSlash(item.Path))

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &verifyMismatch{Path: item.Path, Status: "missing"}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Size() != item.Size {
		return &verifyMismatch{
			Path:     item.Path,
			Status:   "size_mismatch",
			Expected: fmt.Sprintf("%d", item.Size),
			Actual:   fmt.Sprintf("%d", info.Size()),
		}, nil
	}

	if item.ContentHash == "" {
		return nil, nil
	}

	actual, err := hashFileContents(path)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}

	if actual != item.ContentHash {
		return &verifyMismatch{
			Path:     item.Path,
			Status:   "hash_mismatch",
			Expected: item.ContentHash,
			Actual:   actual,
		}, nil
	}

	return nil, nil
}

// hashFileContents computes the same content-addressing hash the Sync
// Engine uses when recording FileRecord.content_hash.
func hashFileContents(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func printVerifyJSON(report *verifyReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printVerifyTable(report *verifyReport) {
	fmt.Printf("Verified: %d files\n", report.Verified)

	if len(report.Mismatches) == 0 {
		fmt.Println("All files verified successfully.")
		return
	}

	fmt.Printf("Mismatches: %d\n\n", len(report.Mismatches))

	headers := []string{"PATH", "STATUS", "EXPECTED", "ACTUAL"}
	rows := make([][]string, len(report.Mismatches))

	for i := range report.Mismatches {
		m := &report.Mismatches[i]
		rows[i] = []string{m.Path, m.Status, m.Expected, m.Actual}
	}

	printTable(os.Stdout, headers, rows)
}
