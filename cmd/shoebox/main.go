package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/shoebox/internal/duplicate"
	"github.com/zombor/shoebox/internal/receipt"
	"github.com/zombor/shoebox/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// visionModel reads receipts and compares them for duplicate analysis
type visionModel interface {
	scanning.Scanner
	duplicate.Provider
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("shoebox")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "shoebox.db", "Database file path")
		storagePath     = fs.StringLong("storage", "./receipts", "Storage directory path")
		scannerType     = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		users           = fs.StringLong("users", "", "Comma separated name:password pairs for basic auth (optional)")
		admins          = fs.StringLong("admins", "", "Comma separated user names allowed to review claims and duplicates")
		duplicateScope  = fs.StringLong("duplicate-scope", "owner", "Compare uploads against 'owner' receipts or all users ('global')")
		deepAnalysis    = fs.BoolLong("deep-analysis", "Confirm strong duplicate matches with the vision model")
		analysisTimeout = fs.DurationLong("deep-analysis-timeout", duplicate.DefaultAnalyzerTimeout, "Time limit for one deep duplicate analysis")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SHOEBOX"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	scope, err := receipt.ParseScope(*duplicateScope)
	if err != nil {
		slog.Error("Invalid duplicate scope", "error", err)
		os.Exit(1)
	}

	auth, err := receipt.ParseCredentials(*users, *admins)
	if err != nil {
		slog.Error("Invalid credentials", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	var model visionModel
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		model, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		model, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize scanner", "type", *scannerType, "error", err)
		os.Exit(1)
	}
	defer model.Close()

	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	duplicates := receipt.DuplicateConfig{Scope: scope}
	if *deepAnalysis {
		duplicates.Analyzer = duplicate.NewAnalyzer(model, *analysisTimeout)
		slog.Info("Deep duplicate analysis enabled", "timeout", *analysisTimeout)
	}

	service := receipt.NewService(db, model, store, duplicates)
	server := receipt.NewServer(service, auth)

	addr := fmt.Sprintf(":%d", *port)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(addr)
	}()

	slog.Info("Server started",
		"address", fmt.Sprintf("http://localhost%s", addr),
		"version", version,
		"duplicate_scope", scope,
		"auth", auth.Enabled(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	case <-sigChan:
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}
