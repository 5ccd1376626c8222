package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/encryption"
	"github.com/tonimelisma/syncclient/internal/recovery"
)

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover encrypted data when the passphrase is lost",
		Long: `Restore access to encrypted data through one of three modalities: a
previously exported backup key file, a one-time recovery code, or a set of
security question answers.`,
	}

	cmd.AddCommand(newRecoverKeyFileCmd())
	cmd.AddCommand(newRecoverCodeCmd())
	cmd.AddCommand(newRecoverQuestionsCmd())
	cmd.AddCommand(newRecoverRepairCmd())

	return cmd
}

func newRecoverService(cc *CLIContext) (*recovery.Service, *encryption.Service, func() error, error) {
	st, err := openStore(cc.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	enc := encryption.New(st, cc.Logger)
	svc := recovery.New(st, enc, cc.Logger)

	return svc, enc, st.Close, nil
}

func newRecoverKeyFileCmd() *cobra.Command {
	var keyFilePath string

	cmd := &cobra.Command{
		Use:   "keyfile",
		Short: "Restore using a backup key file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := recovery.VerifyBackupKeyFile(keyFilePath); err != nil {
				return fmt.Errorf("invalid backup key file: %w", err)
			}

			newPassword, err := promptSecret("New passphrase")
			if err != nil {
				return err
			}

			svc, _, closeFn, err := newRecoverService(cc)
			if err != nil {
				return err
			}
			defer closeFn()

			keyID, err := svc.RestoreFromBackupKeyFile(cmd.Context(), keyFilePath, newPassword)
			if err != nil {
				return fmt.Errorf("restoring from backup key file: %w", err)
			}

			statusf(flagQuiet, "Restored key %s and set a new passphrase\n", keyID)

			return nil
		},
	}

	cmd.Flags().StringVar(&keyFilePath, "file", "", "path to the backup key file")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newRecoverCodeCmd() *cobra.Command {
	var (
		generate bool
		ttl      time.Duration
		id, code string
	)

	cmd := &cobra.Command{
		Use:   "code",
		Short: "Generate or redeem a one-time recovery code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			svc, _, closeFn, err := newRecoverService(cc)
			if err != nil {
				return err
			}
			defer closeFn()

			if generate {
				return runGenerateRecoveryCode(cmd, svc, ttl)
			}

			return runRedeemRecoveryCode(cmd, svc, id, code)
		},
	}

	cmd.Flags().BoolVar(&generate, "generate", false, "generate a new recovery code")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "how long the generated code remains valid")
	cmd.Flags().StringVar(&id, "id", "", "recovery code ID (for redemption)")
	cmd.Flags().StringVar(&code, "code", "", "recovery code (for redemption)")

	return cmd
}

func runGenerateRecoveryCode(cmd *cobra.Command, svc *recovery.Service, ttl time.Duration) error {
	password, err := promptSecret("Current passphrase")
	if err != nil {
		return err
	}

	id, code, err := svc.GenerateRecoveryCode(cmd.Context(), password, ttl)
	if err != nil {
		return fmt.Errorf("generating recovery code: %w", err)
	}

	fmt.Printf("Recovery code ID: %s\n", id)
	fmt.Printf("Recovery code:    %s\n", code)
	fmt.Printf("Expires in:       %s\n", ttl)
	fmt.Println("Store this somewhere safe — it will not be shown again.")

	return nil
}

func runRedeemRecoveryCode(cmd *cobra.Command, svc *recovery.Service, id, code string) error {
	if id == "" || code == "" {
		return fmt.Errorf("--id and --code are required to redeem a recovery code")
	}

	newPassword, err := promptSecret("New passphrase")
	if err != nil {
		return err
	}

	if err := svc.RestoreByCode(cmd.Context(), id, code, newPassword); err != nil {
		return fmt.Errorf("redeeming recovery code: %w", err)
	}

	statusf(flagQuiet, "Passphrase reset using recovery code\n")

	return nil
}

func newRecoverQuestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Restore using security question answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			svc, _, closeFn, err := newRecoverService(cc)
			if err != nil {
				return err
			}
			defer closeFn()

			qs, err := svc.Questions(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading security questions: %w", err)
			}

			answers := make(map[string]string, len(qs))

			for _, q := range qs {
				answer, err := promptLine(q.Question)
				if err != nil {
					return err
				}

				answers[q.ID] = answer
			}

			newPassword, err := promptSecret("New passphrase")
			if err != nil {
				return err
			}

			if err := svc.RestoreBySecurityQuestions(cmd.Context(), answers, newPassword); err != nil {
				return fmt.Errorf("restoring from security questions: %w", err)
			}

			statusf(flagQuiet, "Passphrase reset using security questions\n")

			return nil
		},
	}

	return cmd
}

func newRecoverRepairCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Detect and repair corruption in an encrypted file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := recovery.DetectCorruption(path)
			if err != nil {
				return fmt.Errorf("detecting corruption: %w", err)
			}

			if !result.Corrupted {
				statusf(flagQuiet, "%s: not corrupted\n", path)
				return nil
			}

			statusf(flagQuiet, "%s: %s (%s)\n", path, result.Type, result.Description)

			if !result.Repairable {
				return fmt.Errorf("%s is not repairable", path)
			}

			cc := mustCLIContext(cmd.Context())

			_, enc, closeFn, err := newRecoverService(cc)
			if err != nil {
				return err
			}
			defer closeFn()

			password, err := promptSecret("Passphrase")
			if err != nil {
				return err
			}

			repaired, err := recovery.Repair(cmd.Context(), enc, password, path)
			if err != nil {
				return fmt.Errorf("repairing %s: %w", path, err)
			}

			statusf(flagQuiet, "Repaired copy written to %s\n", repaired)

			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to the file to check")
	cmd.MarkFlagRequired("path")

	return cmd
}

// promptLine reads one line of plain input from stdin, labeled by prompt.
func promptLine(prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)

	reader := bufio.NewReader(os.Stdin)

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// promptSecret reads a line from stdin without echo suppression. The
// module carries no terminal-raw-mode dependency, so input is visible;
// callers pipe from a secrets manager in scripted use.
func promptSecret(prompt string) (string, error) {
	return promptLine(prompt)
}
