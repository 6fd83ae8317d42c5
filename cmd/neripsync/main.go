package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/okamitimo233/NeriPlayer-sub001/internal/config"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/library"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/logging"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/remote"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/snapshot"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/state"
	"github.com/okamitimo233/NeriPlayer-sub001/internal/syncer"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("neripsync starting",
		slog.String("version", Version),
		slog.Bool("remote_configured", cfg.RemoteConfigured()),
		slog.String("write_format", writeFormat(cfg).String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.LoadAt(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	lib, err := library.OpenAt(cfg.LibraryPath())
	if err != nil {
		return fmt.Errorf("opening library: %w", err)
	}
	defer lib.Close()

	// Environment credentials, when present, refresh the stored account so
	// a rotated key takes effect on restart.
	if cfg.RemoteConfigured() {
		acct := state.Account{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}
		if err := appState.SetAccount(acct); err != nil {
			return fmt.Errorf("storing account: %w", err)
		}
	}

	deviceID, err := appState.DeviceID()
	if err != nil {
		return err
	}

	rules, err := cfg.LoadRules()
	if err != nil {
		return fmt.Errorf("loading sync rules: %w", err)
	}

	var store remote.Store

	acct, err := appState.Account()
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}

	if acct != nil {
		store, err = remote.NewS3Store(ctx, remote.S3Config{
			Endpoint:  acct.Endpoint,
			Region:    acct.Region,
			Bucket:    acct.Bucket,
			AccessKey: acct.AccessKey,
			SecretKey: acct.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("creating remote store: %w", err)
		}
	}

	builder := syncer.NewBuilder(lib, deviceID, cfg.DeviceName, rules,
		syncer.BaseURLResolver(cfg.CoverBaseURL))

	engine := syncer.New(syncer.Params{
		Repos:       lib,
		State:       appState,
		Store:       store,
		Builder:     builder,
		Rules:       rules,
		RemoteDir:   cfg.RemoteDir,
		WriteFormat: writeFormat(cfg),
		Logger:      logger,
	})

	trigger := syncer.NewTrigger(engine, lib.Path(), cfg.SyncInterval, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return trigger.Run(gctx)
	})

	return g.Wait()
}

func writeFormat(cfg *config.Config) snapshot.Format {
	if cfg.BinaryFormat {
		return snapshot.FormatBinary
	}

	return snapshot.FormatJSON
}
