package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/lmbridge/internal/auth"
	"github.com/nerrad567/lmbridge/internal/cloud"
	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
	"github.com/nerrad567/lmbridge/internal/infrastructure/logging"
)

// newCloudClient returns a cloud client for the configured account. The
// installation key is loaded from store, or generated on first use, and
// registered once. Tokens persist in store across restarts.
func newCloudClient(ctx context.Context, cfg *config.Config, store auth.Store, log *logging.Logger) (*cloud.Client, error) {
	username := cfg.Cloud.Username

	key, registered, err := store.LoadInstallation(ctx, username)
	switch {
	case errors.Is(err, auth.ErrNotStored):
		key, err = auth.GenerateInstallationKey("")
		if err != nil {
			return nil, fmt.Errorf("generating installation key: %w", err)
		}
		if err := store.SaveInstallation(ctx, username, key, false); err != nil {
			return nil, err
		}
		log.Info("installation key created", "installation_id", key.InstallationID)
	case err != nil:
		return nil, err
	}

	client, err := buildCloudClient(cfg, key, store)
	if err != nil {
		return nil, err
	}
	client.SetLogger(log)

	if !registered {
		if err := client.Register(ctx); err != nil {
			return nil, fmt.Errorf("registering installation: %w", err)
		}
		if err := store.SaveInstallation(ctx, username, key, true); err != nil {
			return nil, err
		}
		log.Info("installation registered", "installation_id", key.InstallationID)
	}
	return client, nil
}

// reregister replaces the stored installation key with a fresh one and
// registers it. Use it when the cloud has forgotten the old key.
func reregister(ctx context.Context, cfg *config.Config, store auth.Store, log *logging.Logger) (*auth.InstallationKey, error) {
	key, err := auth.GenerateInstallationKey("")
	if err != nil {
		return nil, fmt.Errorf("generating installation key: %w", err)
	}
	client, err := buildCloudClient(cfg, key, nil)
	if err != nil {
		return nil, err
	}
	client.SetLogger(log)
	if err := client.Register(ctx); err != nil {
		return nil, fmt.Errorf("registering installation: %w", err)
	}
	if err := store.SaveInstallation(ctx, cfg.Cloud.Username, key, true); err != nil {
		return nil, err
	}
	return key, nil
}

func buildCloudClient(cfg *config.Config, key *auth.InstallationKey, store auth.Store) (*cloud.Client, error) {
	initial, maxDelay := cfg.Cloud.Reconnect.Backoff()
	client, err := cloud.New(cloud.Config{
		Username:         cfg.Cloud.Username,
		Password:         cfg.Cloud.Password,
		BaseURL:          cfg.Cloud.BaseURL,
		StreamURL:        cfg.Cloud.StreamURL,
		RequestTimeout:   cfg.Cloud.GetRequestTimeout(),
		CommandTimeout:   cfg.Cloud.GetCommandTimeout(),
		ReconnectInitial: initial,
		ReconnectMax:     maxDelay,
		Store:            store,
	}, key)
	if err != nil {
		return nil, fmt.Errorf("creating cloud client: %w", err)
	}
	return client, nil
}
