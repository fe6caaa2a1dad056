// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/tejzpr/whisperjournal/internal/audio"
	"github.com/tejzpr/whisperjournal/internal/config"
	"github.com/tejzpr/whisperjournal/internal/database"
	"github.com/tejzpr/whisperjournal/internal/llm"
	"github.com/tejzpr/whisperjournal/internal/mcptools"
	"github.com/tejzpr/whisperjournal/internal/note"
	"github.com/tejzpr/whisperjournal/internal/runner"
	"github.com/tejzpr/whisperjournal/internal/server"
	"github.com/tejzpr/whisperjournal/internal/settings"
	"github.com/tejzpr/whisperjournal/internal/transcribe"
	"github.com/tejzpr/whisperjournal/internal/vaultgit"
	"gorm.io/gorm/logger"
)

// Version is set at build time via ldflags
var Version string

func main() {
	// MCP servers must only output JSON-RPC on stdout; log to stderr.
	log.SetOutput(os.Stderr)

	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Server port (overrides config)")
	dbPath := flag.String("db-path", "", "Database path (overrides config)")
	mcpMode := flag.Bool("mcp", false, "Also serve the MCP tool surface on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "WhisperJournal Server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PORT      Server port\n")
		fmt.Fprintf(os.Stderr, "  DB_PATH   SQLite database path\n")
	}

	flag.Parse()

	log.Println("Starting WhisperJournal server...")

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
		if err != nil {
			log.Printf("Warning: Failed to load config from %s: %v", *configPath, err)
			cfg = config.DefaultConfig()
		}
	} else {
		cfg, err = config.Load()
		if err != nil {
			log.Printf("Warning: Failed to load default config: %v", err)
			cfg = config.DefaultConfig()
		}
	}

	applyEnvOverrides(cfg)
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *mcpMode {
		cfg.MCP.Enabled = true
	}

	db, err := database.Connect(&database.Config{
		Path:     cfg.Database.Path,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db) //nolint:errcheck

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	store := database.NewStore(db)
	if err := settings.Seed(store); err != nil {
		log.Fatalf("Failed to seed settings: %v", err)
	}

	log.Printf("Database ready at %s", cfg.Database.Path)

	worker := buildWorker(store, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)
	log.Printf("Worker %s started", worker.ID())

	srv := server.NewServer(store, worker)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Routes(),
	}

	go func() {
		log.Printf("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	if cfg.MCP.Enabled {
		log.Println("Serving MCP tools on stdio")
		mcpSrv := mcptools.NewMCPServer(store)
		go func() {
			if err := mcpserver.ServeStdio(mcpSrv); err != nil {
				log.Printf("MCP server stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}

// buildWorker wires the pipeline worker with per-stage factories that read a
// fresh settings snapshot.
func buildWorker(store *database.Store, cfg *config.Config) *runner.Worker {
	tools := audio.NewTools()

	deps := runner.Deps{
		Store: store,
		Audio: tools,
		NewTranscriber: func(st *settings.Settings) runner.Transcriber {
			return transcribe.New(transcribe.Options{
				ModelPath:    st.ResolveWhisperModel(),
				Priming:      st.TranscriptionPrompt,
				VADEnabled:   st.VADEnabled,
				VADModelPath: st.VADModelPath,
				ChunkSeconds: st.ChunkDurationSeconds,
			}, tools)
		},
		NewGenerator: func(st *settings.Settings) runner.Generator {
			return llm.NewClient(st.LLMBaseURL, st.LLMModel)
		},
		NewNoteWriter: func(st *settings.Settings) runner.NoteWriter {
			return note.NewWriter(st.VaultPath)
		},
	}

	if cfg.Git.AutoCommit {
		deps.AfterWrite = func(st *settings.Settings, relPath string) {
			err := vaultgit.CommitNote(st.VaultPath, []string{relPath}, "journal: "+filepath.Base(relPath))
			if err != nil && !errors.Is(err, vaultgit.ErrNotARepo) {
				log.Printf("vault auto-commit failed: %v", err)
			}
		}
	}

	return runner.New(deps)
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
}
