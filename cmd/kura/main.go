// Package main is the Kura CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/encryption"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/index"
	"github.com/hyperjump/kura/internal/keylock"
	"github.com/hyperjump/kura/internal/reconcile"
	"github.com/hyperjump/kura/internal/search"
	"github.com/hyperjump/kura/internal/server"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vault"
	"github.com/hyperjump/kura/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kura/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "reconcile":
		runReconcile()
	case "reindex":
		runReindex()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kura version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watch *reconcile.Watcher
	if cfg.Reconcile.Watch {
		watch = reconcile.NewWatcher(components.Reconciler,
			time.Duration(cfg.Reconcile.DebounceSeconds)*time.Second, logger)
		if err := watch.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start vault watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Vault,
		components.Engine,
		components.Pipeline,
		components.Reconciler,
		components.Storage,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watch != nil {
		watch.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runReconcile() {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	repair := fs.Bool("repair", false, "delete stale metadata and orphan blobs (irreversible)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if *repair {
		result, err := components.Reconciler.Repair(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Repair failed: %v\n", err)
			os.Exit(1)
		}
		if *outputFormat == "json" {
			printJSON(result)
			return
		}
		fmt.Printf("cleared_missing: %d\n", result.ClearedMissing)
		fmt.Printf("removed_orphans: %d\n", result.RemovedOrphans)
		for _, f := range result.Failures {
			fmt.Printf("failed: %s (%s)\n", f.Path, f.Error)
		}
		return
	}

	report, err := components.Reconciler.Check(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
		os.Exit(1)
	}
	if *outputFormat == "json" {
		printJSON(report)
		return
	}
	if report.Clean() {
		fmt.Println("vault is consistent")
		return
	}
	for _, rec := range report.Missing {
		fmt.Printf("missing blob: %s (file %s)\n", rec.Path, rec.ID)
	}
	for _, path := range report.Orphans {
		fmt.Printf("orphan blob: %s\n", path)
	}
	fmt.Println("run with -repair to delete the divergent items")
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	report, err := components.Pipeline.Reindex(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reindex failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reindexed %d of %d file(s), %d failed\n", report.Indexed, report.Total, report.Failed)
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Files      int64                  `json:"files"`
	Embeddings int64                  `json:"embeddings"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8700", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		printJSON(status)
		return
	}
	fmt.Printf("files:       %d   # stored file versions\n", status.Files)
	fmt.Printf("embeddings:  %d   # embedded documents\n", status.Embeddings)
	if len(status.Config) > 0 {
		fmt.Println()
		fmt.Println("# configuration")
		for key, value := range status.Config {
			fmt.Printf("%s: %v\n", key, value)
		}
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage    storage.Storage
	Embedder   embedding.Embedder
	Vault      *vault.Manager
	Pipeline   *index.Pipeline
	Engine     *search.Engine
	Reconciler *reconcile.Reconciler
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	codec, err := encryption.NewCodec(cfg.Vault.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	locks := keylock.New()
	vaultMgr, err := vault.NewManager(store, codec, cfg.Vault.RootDir, cfg.Vault.MaxUploadBytes(), locks, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	var embedder embedding.Embedder
	if cfg.Embedding.ModelPath != "" {
		onnxEmbedder, err := embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
			cfg.Embedding.CacheSize,
		)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using hash embedder", zap.Error(err))
			embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
		} else {
			embedder = onnxEmbedder
		}
	} else {
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	}

	pipeline := index.NewPipeline(vaultMgr, store, extract.NewRegistry(), embedder, logger)
	engine := search.NewEngine(store, embedder, &cfg.Search, logger)
	reconciler := reconcile.NewReconciler(store, cfg.Vault.RootDir, locks, logger)

	return &Components{
		Storage:    store,
		Embedder:   embedder,
		Vault:      vaultMgr,
		Pipeline:   pipeline,
		Engine:     engine,
		Reconciler: reconciler,
	}, nil
}

func printUsage() {
	fmt.Println(`kura - encrypted file vault with versioning and search

Usage:
  kura server [flags]       Start the HTTP server
  kura reconcile [flags]    Check metadata/disk consistency (use -repair to fix)
  kura reindex [flags]      Re-run extraction and embedding over all files
  kura status [flags]       Show vault status from a running server
  kura version              Show version
  kura help                 Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kura/config.yaml)
  --debug            Enable debug logging

Reconcile Flags:
  --config string    Config file path
  --repair           Delete stale metadata rows and orphan blobs (irreversible)
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL (default: http://localhost:8700)
  --output string    Output format: text or json (default: text)

Examples:
  kura server
  kura reconcile
  kura reconcile -repair
  kura reindex
  kura status --output json`)
}
