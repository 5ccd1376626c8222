package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tonimelisma/syncclient/internal/config"
	"github.com/tonimelisma/syncclient/internal/encryption"
	"github.com/tonimelisma/syncclient/internal/store"
	"github.com/tonimelisma/syncclient/internal/sync"
	"github.com/tonimelisma/syncclient/internal/webdav"
)

// envEncryptionPassword is read at sync time to unlock the Encryption
// Service without prompting on every invocation of a --watch daemon.
const envEncryptionPassword = "SYNCCLIENT_ENCRYPTION_PASSWORD"

// openStore opens the state database at the default path, creating the
// containing directory and applying migrations if needed.
func openStore(logger *slog.Logger) (*store.Store, error) {
	if err := os.MkdirAll(config.DefaultDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.Open(config.DefaultStatePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	return st, nil
}

// newWebDAVClient builds a webdav.Client from the resolved remote config.
func newWebDAVClient(cfg *config.Config, logger *slog.Logger) (*webdav.Client, error) {
	if cfg.Remote.ServerURL == "" {
		return nil, fmt.Errorf("remote.server_url not configured — run 'syncclient configure' first")
	}

	return webdav.New(cfg.Remote.ServerURL, cfg.Remote.Username, cfg.Remote.AccessToken, transferHTTPClient(), logger), nil
}

// newEncryptionService wires an encryption.Service when encryption is
// enabled in config, returning (nil, "", nil) otherwise. The password is
// read from SYNCCLIENT_ENCRYPTION_PASSWORD so unattended daemons can
// unlock the master key without a terminal prompt.
func newEncryptionService(cfg *config.Config, st *store.Store, logger *slog.Logger) (*encryption.Service, string, error) {
	if !cfg.Encryption.Enabled {
		return nil, "", nil
	}

	password := os.Getenv(envEncryptionPassword)
	if password == "" {
		return nil, "", fmt.Errorf("encryption is enabled but %s is not set", envEncryptionPassword)
	}

	return encryption.New(st, logger), password, nil
}

// buildEngine wires the composition root for the Sync Engine: it opens
// the state store, builds the WebDAV client, optionally wires the
// Encryption Service, and returns a ready-to-run engine plus a closer
// for the underlying resources.
func buildEngine(cc *CLIContext) (*sync.Engine, func() error, error) {
	cfg := cc.Cfg

	if cfg.Remote.SyncFolder == "" {
		return nil, nil, fmt.Errorf("remote.sync_folder not configured — run 'syncclient configure' first")
	}

	st, err := openStore(cc.Logger)
	if err != nil {
		return nil, nil, err
	}

	client, err := newWebDAVClient(cfg, cc.Logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	enc, encPassword, err := newEncryptionService(cfg, st, cc.Logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	engine := sync.NewEngineFromConfig(cfg, client, st, enc, encPassword, cc.Logger)

	return engine, st.Close, nil
}

// waitForContext blocks until ctx is canceled, then stops the engine.
func waitForContext(ctx context.Context, engine *sync.Engine) {
	<-ctx.Done()
	engine.Stop()
}
