// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/config"
	"github.com/AleutianAI/remedy/services/repair/executor"
	"github.com/AleutianAI/remedy/services/repair/index"
	"github.com/AleutianAI/remedy/services/repair/knowledge"
	"github.com/AleutianAI/remedy/services/repair/orchestrator"
	"github.com/AleutianAI/remedy/services/repair/server"
)

var (
	cfgPath       string
	verbose       bool
	telemetryMode string

	fixRoot        string
	fixMaxAttempts int
	fixNoCache     bool
	indexLabel     string
	serveRoot      string
	serveAddr      string

	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "remedy",
		Short: "Automatic diagnosis and repair of Python runtime errors",
		Long: `Remedy runs a failing Python entry point, identifies the error from
its traceback, locates the responsible definition across the project,
generates a patch, and re-executes until the program runs clean or the
retry budget is spent.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Default()
			if cfgPath != "" {
				loaded, err := config.LoadFile(cfgPath)
				if err != nil {
					return err
				}
				cfg = *loaded
			}
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	fixCmd = &cobra.Command{
		Use:   "fix <entry.py>",
		Short: "Run a repair session for a failing entry point",
		Args:  cobra.ExactArgs(1),
		RunE:  runFix,
	}

	indexCmd = &cobra.Command{
		Use:   "index [root]",
		Short: "Build the code index and persist a snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIndex,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only debug endpoints",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a remedy config file (yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&telemetryMode, "telemetry", "none", "telemetry exporter: stdout or none")

	fixCmd.Flags().StringVar(&fixRoot, "root", ".", "project root the entry runs in")
	fixCmd.Flags().IntVar(&fixMaxAttempts, "max-attempts", 0, "override the patch attempt budget")
	fixCmd.Flags().BoolVar(&fixNoCache, "no-cache", false, "skip the snapshot cache and build the index fresh")

	indexCmd.Flags().StringVar(&indexLabel, "label", "", "label stored with the snapshot")

	serveCmd.Flags().StringVar(&serveRoot, "root", ".", "project root to index and expose")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to the config value)")

	rootCmd.AddCommand(fixCmd, indexCmd, serveCmd)
}

// openSnapshotStore opens the shared BadgerDB index cache.
//
// Description:
//
//	The cache lives in REMEDY_CACHE_DIR or ~/.remedy/cache/index. When
//	the database cannot be opened the caller proceeds without a cache;
//	persistence is an optimization, never a requirement.
func openSnapshotStore() (*index.SnapshotStore, func(), error) {
	dir := os.Getenv("REMEDY_CACHE_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, func() {}, err
		}
		dir = filepath.Join(home, ".remedy", "cache", "index")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, func() {}, err
	}
	store, err := index.NewSnapshotStore(db, slog.Default())
	if err != nil {
		_ = db.Close()
		return nil, func() {}, err
	}
	return store, func() { _ = db.Close() }, nil
}

// prepareIndex restores the latest snapshot when one matches the root
// and refreshes it against the live tree, or builds from scratch.
func prepareIndex(ctx context.Context, root string, store *index.SnapshotStore) (*index.CodeIndex, error) {
	newIndex := func() *index.CodeIndex {
		return index.NewCodeIndex(root, index.WithFuzzyFloor(cfg.FuzzyFloor))
	}
	idx := newIndex()

	if store != nil {
		if snap, meta, err := store.LoadLatest(ctx, root); err == nil {
			if rerr := idx.RestoreSnapshot(snap); rerr == nil {
				stats, ferr := idx.Refresh(ctx)
				if ferr == nil {
					slog.Info("index restored from snapshot",
						slog.String("snapshot_id", meta.SnapshotID),
						slog.Int("changed", stats.Changed),
						slog.Int("added", stats.Added),
						slog.Int("removed", stats.Removed))
					return idx, nil
				}
			} else {
				slog.Warn("snapshot restore failed, rebuilding", "error", rerr)
			}
			idx = newIndex()
		}
	}

	stats, err := idx.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	slog.Info("index built",
		slog.Int("files", stats.Files),
		slog.Int("symbols", stats.Symbols),
		slog.Int("errors", stats.Errors))
	return idx, nil
}

// newWeaviateClient parses the configured URL into a client.
func newWeaviateClient(rawURL string) (*weaviate.Client, error) {
	scheme := "http"
	host := rawURL
	if after, ok := strings.CutPrefix(rawURL, "https://"); ok {
		scheme, host = "https", after
	} else if after, ok := strings.CutPrefix(rawURL, "http://"); ok {
		host = after
	}
	return weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
}

func runFix(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := initTelemetry(ctx, telemetryMode)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	root, err := filepath.Abs(fixRoot)
	if err != nil {
		return err
	}
	entry := args[0]
	if filepath.IsAbs(entry) {
		rel, rerr := filepath.Rel(root, entry)
		if rerr != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("entry %s is outside the project root %s", entry, root)
		}
		entry = rel
	}
	if fixMaxAttempts > 0 {
		cfg.MaxAttempts = fixMaxAttempts
	}

	var store *index.SnapshotStore
	if !fixNoCache {
		s, closeStore, serr := openSnapshotStore()
		if serr != nil {
			slog.Warn("snapshot cache unavailable, building fresh", "error", serr)
		} else {
			store = s
			defer closeStore()
		}
	}

	idx, err := prepareIndex(ctx, root, store)
	if err != nil {
		return err
	}

	if os.Getenv("CLAUDE_MODEL") == "" && cfg.Model != "" {
		_ = os.Setenv("CLAUDE_MODEL", cfg.Model)
	}
	client, err := llm.NewAnthropicClient()
	if err != nil {
		return err
	}

	opts := []orchestrator.SessionOption{orchestrator.WithConfig(cfg)}
	if cfg.WeaviateURL != "" {
		wc, werr := newWeaviateClient(cfg.WeaviateURL)
		if werr != nil {
			slog.Warn("weaviate client unavailable, retrieval disabled", "error", werr)
		} else if retriever, rerr := knowledge.NewRetriever(wc, slog.Default()); rerr == nil {
			opts = append(opts, orchestrator.WithRetriever(retriever))
		}
	}

	exec := executor.NewLocalExecutor(
		executor.WithPython(cfg.PythonBinary),
		executor.WithTimeout(time.Duration(cfg.ExecTimeoutSeconds)*time.Second),
	)
	session := orchestrator.NewSession(root, idx, exec, client, opts...)

	result, err := session.Run(ctx, entry)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if result.Success && store != nil && len(result.TouchedFiles) > 0 {
		if _, rerr := idx.Refresh(ctx); rerr == nil {
			if _, serr := store.Save(ctx, idx, "post-repair"); serr != nil {
				slog.Warn("snapshot save failed", "error", serr)
			}
		}
	}
	if !result.Success {
		return fmt.Errorf("repair failed after %d attempt(s)", result.Attempts)
	}
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootArg := "."
	if len(args) == 1 {
		rootArg = args[0]
	}
	root, err := filepath.Abs(rootArg)
	if err != nil {
		return err
	}

	idx := index.NewCodeIndex(root)
	stats, err := idx.Build(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d files, %d symbols (%d parse errors)\n",
		stats.Files, stats.Symbols, stats.Errors)

	store, closeStore, err := openSnapshotStore()
	if err != nil {
		return fmt.Errorf("open snapshot cache: %w", err)
	}
	defer closeStore()

	meta, err := store.Save(ctx, idx, indexLabel)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s saved (%d bytes compressed)\n",
		meta.SnapshotID, meta.CompressedSize)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := initTelemetry(ctx, telemetryMode)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	root, err := filepath.Abs(serveRoot)
	if err != nil {
		return err
	}

	var store *index.SnapshotStore
	s, closeStore, serr := openSnapshotStore()
	if serr != nil {
		slog.Warn("snapshot cache unavailable", "error", serr)
	} else {
		store = s
		defer closeStore()
	}

	idx, err := prepareIndex(ctx, root, store)
	if err != nil {
		return err
	}

	// The watcher keeps the index current while the process is up.
	watcher, err := index.NewWatcher(idx, slog.Default())
	if err != nil {
		slog.Warn("file watcher unavailable, index is static", "error", err)
	} else {
		go watcher.Run(ctx)
		defer func() { _ = watcher.Close() }()
	}

	handlerOpts := []server.HandlersOption{}
	if store != nil {
		handlerOpts = append(handlerOpts, server.WithSnapshotStore(store))
	}
	handlers, err := server.NewHandlers(idx, handlerOpts...)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("debug server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
