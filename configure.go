package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/config"
)

func newConfigureCmd() *cobra.Command {
	var (
		flagServerURL   string
		flagUsername    string
		flagAccessToken string
		flagSyncFolder  string
		flagNonInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set up the remote server, credentials, and local sync folder",
		Long: `Write remote.server_url, remote.username, remote.access_token, and
remote.sync_folder to the config file.

Without flags, prompts interactively for each value (when connected to a
terminal), defaulting to the current config's values. Pass flags, or
--non-interactive with all four flags set, for scripted setup.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigure(cmd, flagServerURL, flagUsername, flagAccessToken, flagSyncFolder, flagNonInteractive)
		},
	}

	cmd.Flags().StringVar(&flagServerURL, "server-url", "", "WebDAV server base URL")
	cmd.Flags().StringVar(&flagUsername, "username", "", "WebDAV username")
	cmd.Flags().StringVar(&flagAccessToken, "access-token", "", "WebDAV password or bearer token")
	cmd.Flags().StringVar(&flagSyncFolder, "sync-folder", "", "local directory to sync")
	cmd.Flags().BoolVar(&flagNonInteractive, "non-interactive", false, "fail instead of prompting for missing values")

	return cmd
}

func runConfigure(cmd *cobra.Command, serverURL, username, accessToken, syncFolder string, nonInteractive bool) error {
	logger := buildLogger(nil)

	cfgPath := flagConfigPath
	if cfgPath == "" {
		cfgPath = config.ResolveConfigPath(config.ReadEnvOverrides(), config.CLIOverrides{}, logger)
	}

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading existing config: %w", err)
	}

	interactive := !nonInteractive && isatty.IsTerminal(os.Stdin.Fd())

	if err := applyConfigureField(&cfg.Remote.ServerURL, serverURL, "Server URL", interactive, nonInteractive); err != nil {
		return err
	}

	if err := applyConfigureField(&cfg.Remote.Username, username, "Username", interactive, nonInteractive); err != nil {
		return err
	}

	if err := applyConfigureField(&cfg.Remote.AccessToken, accessToken, "Access token", interactive, nonInteractive); err != nil {
		return err
	}

	if err := applyConfigureField(&cfg.Remote.SyncFolder, syncFolder, "Sync folder", interactive, nonInteractive); err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.Write(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Wrote config to %s\n", cfgPath)

	return nil
}

// applyConfigureField sets *field to flagValue when given, otherwise
// prompts for it interactively (offering the existing value as a
// default), otherwise leaves it unchanged; with nonInteractive set, a
// field that is still empty is an error.
func applyConfigureField(field *string, flagValue, label string, interactive, nonInteractive bool) error {
	if flagValue != "" {
		*field = flagValue
		return nil
	}

	if !interactive {
		if nonInteractive && *field == "" {
			return fmt.Errorf("%s not provided and --non-interactive set", label)
		}

		return nil
	}

	prompt := label
	if *field != "" {
		prompt = fmt.Sprintf("%s [%s]", label, *field)
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)

	reader := bufio.NewReader(os.Stdin)

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading %s: %w", label, err)
	}

	line = strings.TrimSpace(line)
	if line != "" {
		*field = line
	}

	return nil
}
