// Command kioku is the assistant kernel CLI.
//
// Usage:
//
//	kioku ask [--source s] [--json] "明天提醒我买菜"
//	kioku confirm [--source s] [--json] <token>
//	kioku search [--limit n] <query>
//	kioku serve
//	kioku migrate
//
// ask and confirm print the assistant's reply; --json prints the full
// kernel result instead. Configuration comes from environment variables
// (see internal/config) and an optional .env file in the working directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kioku"
	"github.com/ashita-ai/kioku/internal/config"
	"github.com/ashita-ai/kioku/internal/storage"
	"github.com/ashita-ai/kioku/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KIOKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Log to stderr: stdout carries replies, and in serve mode the MCP
	// protocol stream.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	if len(os.Args) < 2 {
		usage()
		return fmt.Errorf("missing command")
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	// migrate runs without the full app: no model or embedding provider
	// needs to be resolvable just to move the schema forward.
	if cmd == "migrate" {
		return runMigrate(ctx, logger)
	}

	app, err := kioku.New(
		kioku.WithLogger(logger),
		kioku.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	switch cmd {
	case "ask":
		fs := flag.NewFlagSet("ask", flag.ExitOnError)
		source := fs.String("source", "cli", "request source recorded in the audit trail")
		asJSON := fs.Bool("json", false, "print the full kernel result as JSON")
		_ = fs.Parse(args)
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: kioku ask [--source s] [--json] <request>")
		}
		res, err := app.Ask(ctx, fs.Arg(0), *source)
		if err != nil {
			return err
		}
		return printResult(res, *asJSON)

	case "confirm":
		fs := flag.NewFlagSet("confirm", flag.ExitOnError)
		source := fs.String("source", "cli", "must match the source the token was issued to")
		asJSON := fs.Bool("json", false, "print the full kernel result as JSON")
		_ = fs.Parse(args)
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: kioku confirm [--source s] [--json] <token>")
		}
		res, err := app.Confirm(ctx, fs.Arg(0), *source)
		if err != nil {
			return err
		}
		return printResult(res, *asJSON)

	case "search":
		fs := flag.NewFlagSet("search", flag.ExitOnError)
		limit := fs.Int("limit", 8, "maximum number of hits")
		_ = fs.Parse(args)
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: kioku search [--limit n] <query>")
		}
		hits, err := app.Search(ctx, fs.Arg(0), *limit)
		if err != nil {
			return err
		}
		return printJSON(hits)

	case "serve":
		return app.ServeMCP()

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runMigrate(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func printResult(res kioku.Result, asJSON bool) error {
	if asJSON {
		return printJSON(res)
	}
	fmt.Println(res.Reply)
	if res.ConfirmationRequired {
		fmt.Printf("\n(token %s)\n", res.ConfirmationToken)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: kioku <command> [flags] [args]

commands:
  ask [--source s] [--json] <request>    run one kernel cycle for a request
  confirm [--source s] [--json] <token>  redeem a confirmation token
  search [--limit n] <query>             search records directly (read-only)
  serve                                  serve MCP on stdin/stdout
  migrate                                apply embedded schema migrations`)
}
