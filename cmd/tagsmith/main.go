// Tagsmith is an approval-gated audio metadata editing agent.
//
// It scans a music library, indexes each file's tags for semantic
// retrieval, and lets a local LLM propose batch metadata edits that are
// only applied after explicit user approval. It exposes an HTTP session
// API and an interactive chat REPL. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	tagsmith serve             Start the session API server
//	tagsmith chat              Interactive chat against the library
//	tagsmith scan              Print the library's current metadata
//	tagsmith version           Print version and build information
//	tagsmith -o json version   Output version information as JSON
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dkoren/tagsmith/internal/api"
	"github.com/dkoren/tagsmith/internal/buildinfo"
	"github.com/dkoren/tagsmith/internal/config"
	"github.com/dkoren/tagsmith/internal/embeddings"
	"github.com/dkoren/tagsmith/internal/index"
	"github.com/dkoren/tagsmith/internal/llm"
	"github.com/dkoren/tagsmith/internal/session"
	"github.com/dkoren/tagsmith/internal/tagstore"
	"github.com/dkoren/tagsmith/internal/workflow"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run], keeping os.Exit and os.Args out of
// the application logic so the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the tagsmith command. Arguments are
// parsed by hand; the flag package relies on package-level globals
// which interfere with calling run() concurrently from tests, and the
// argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// A .env file beside the binary can supply ${VAR} values referenced
	// from the YAML config. Missing files are fine.
	_ = godotenv.Load()

	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "chat":
		return runChat(ctx, stdout, os.Stdin, configPath)
	case "scan":
		return runScan(stdout, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Tagsmith - Approval-Gated Audio Metadata Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tagsmith [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the session API server")
	fmt.Fprintln(w, "  chat         Interactive chat against the library")
	fmt.Fprintln(w, "  scan         Print the library's current metadata")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/tagsmith/config.yaml, /etc/tagsmith/config.yaml")
	return nil
}

// newLogger creates a structured logger writing to w at the given level.
// All log output goes through slog; this standardizes handler setup
// across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used and must exist. With no config
// file anywhere, built-in defaults apply so chat and scan work out of
// the box against the current directory.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// stack holds the assembled application components shared by the serve
// and chat subcommands. Close releases the underlying database handle.
type stack struct {
	cfg    *config.Config
	engine *workflow.Engine
	db     *sql.DB
}

func (s *stack) Close() error { return s.db.Close() }

// buildStack loads the library, builds the retrieval index, and wires
// the session store, executor, and workflow engine together.
func buildStack(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*stack, error) {
	if cfg.Library.Path == "" {
		return nil, errors.New("library.path is not configured")
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
		}
	}

	// --- Session store ---
	// SQLite-backed turn history and pending proposals. Persists across
	// restarts so a suspended approval can be resumed by a new process.
	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session database %s: %w", dbPath, err)
	}
	sessions, err := session.NewStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init session store: %w", err)
	}
	logger.Info("session database opened", "path", dbPath)

	// --- Tag store and library scan ---
	tags := tagstore.New(logger)
	records, err := tags.ReadAll(cfg.Library.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("scan library %s: %w", cfg.Library.Path, err)
	}
	logger.Info("library scanned", "path", cfg.Library.Path, "files", len(records))

	// --- Retrieval index ---
	embClient := embeddings.New(embeddings.Config{
		BaseURL: cfg.EmbeddingsURL(),
		Model:   cfg.Embeddings.Model,
	})

	ix, err := index.New(embClient, cfg.IndexPath(), logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := ix.Build(ctx, records); err != nil {
		db.Close()
		return nil, fmt.Errorf("build index: %w", err)
	}
	logger.Info("index built", "documents", ix.Count(), "model", cfg.Embeddings.Model)

	// --- Oracle ---
	oracle := llm.NewOllamaClient(cfg.Models.OllamaURL)
	if err := oracle.Ping(ctx); err != nil {
		logger.Warn("ollama not reachable at startup", "url", cfg.Models.OllamaURL, "error", err)
	}

	retriever := index.NewService(ix, oracle, cfg.Models.Default, logger)
	executor := workflow.NewExecutor(tags, ix, cfg.Executor.Parallelism, logger)

	engine := workflow.New(sessions, retriever, oracle, executor, workflow.Config{
		Model:       cfg.Models.Default,
		LibraryPath: cfg.Library.Path,
	}, logger)

	return &stack{cfg: cfg, engine: engine, db: db}, nil
}

// runServe handles the "tagsmith serve" subcommand. It assembles the
// full stack and serves the session API until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Tagsmith", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"library", cfg.Library.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := buildStack(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, st.engine, logger)
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Tagsmith stopped")
	return nil
}

// chatSessionID is the session used by the interactive REPL. A fixed ID
// means an interrupted chat resumes where it left off, pending
// approvals included.
const chatSessionID = "chat"

// runChat handles the "tagsmith chat" subcommand: a line-oriented REPL
// over the workflow engine. Plain input is submitted as a user turn;
// "approve", "reject", and "reset" drive a suspended session.
func runChat(ctx context.Context, stdout io.Writer, stdin io.Reader, configPath string) error {
	// Chat is interactive; keep log noise down.
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := buildStack(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(stdout, "Tagsmith chat - library: %s\n", cfg.Library.Path)
	fmt.Fprintln(stdout, "Type a request, or: approve, reject, reset, quit")

	// Surface a pending approval from a previous run before prompting.
	if sess, err := st.engine.History(chatSessionID); err == nil && sess != nil && sess.Status == session.StatusSuspended {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "A proposal from a previous session is awaiting approval:")
		printPending(stdout, sess.Pending)
	}

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var result *workflow.Result
		switch line {
		case "quit", "exit":
			return nil
		case "approve":
			result, err = st.engine.Approve(ctx, chatSessionID)
		case "reject":
			result, err = st.engine.Reject(ctx, chatSessionID)
		case "reset":
			if err := st.engine.Reset(chatSessionID); err != nil {
				fmt.Fprintf(stdout, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(stdout, "Session cleared.")
			continue
		default:
			result, err = st.engine.Submit(ctx, chatSessionID, line)
		}

		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}

		if result.Content != "" {
			fmt.Fprintln(stdout, result.Content)
		}
		if result.Status == session.StatusSuspended {
			printPending(stdout, result.Pending)
		}
	}
	return scanner.Err()
}

// printPending renders a proposed batch of tool calls for review.
func printPending(w io.Writer, calls []llm.ToolCall) {
	fmt.Fprintln(w, "Proposed changes:")
	for _, call := range calls {
		args, _ := json.Marshal(call.Function.Arguments)
		fmt.Fprintf(w, "  %s %s\n", call.Function.Name, args)
	}
	fmt.Fprintln(w, "Type 'approve' to apply or 'reject' to cancel.")
}

// runScan handles the "tagsmith scan" subcommand. It reads the library
// and prints every file's metadata without touching the index or the
// session database.
func runScan(stdout io.Writer, configPath string, outputFmt string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Library.Path == "" {
		return errors.New("library.path is not configured")
	}

	records, err := tagstore.New(logger).ReadAll(cfg.Library.Path)
	if err != nil {
		return fmt.Errorf("scan library %s: %w", cfg.Library.Path, err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	for _, rec := range records {
		fmt.Fprintln(stdout, rec.Filepath)
		for _, field := range tagstore.Fields() {
			if v := rec.Get(field); v != "" {
				fmt.Fprintf(stdout, "  %-13s %s\n", string(field)+":", v)
			}
		}
	}
	fmt.Fprintf(stdout, "%d file(s)\n", len(records))
	return nil
}
