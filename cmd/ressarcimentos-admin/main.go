// Command ressarcimentos-admin runs operator tasks against the configured
// record store: an explicit full reset and CSV imports. It also prints the
// Supabase DDL the supabase backend expects.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/app"
	"github.com/patrimonium/ressarcimentos/internal/config"
	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/importer"
	"github.com/patrimonium/ressarcimentos/internal/infra/observability"
	"github.com/patrimonium/ressarcimentos/internal/infra/supabase"
)

func main() {
	reset := flag.Bool("reset", false, "wipe every client, claim and settlement")
	confirm := flag.String("confirm", "", fmt.Sprintf("confirmation phrase for -reset (%q)", domain.ResetConfirmation))
	kind := flag.String("import", "", "import a CSV sheet: empresas, pedidos or ressarcimentos")
	file := flag.String("file", "", "path of the CSV file for -import")
	schema := flag.Bool("supabase-schema", false, "print the Supabase schema (tables and reset_all) and exit")
	flag.Parse()

	if *schema {
		fmt.Print(supabase.Schema)
		return
	}

	if err := run(*reset, *confirm, *kind, *file); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(reset bool, confirm, kind, file string) error {
	if !reset && kind == "" {
		flag.Usage()
		return fmt.Errorf("nothing to do: pass -reset or -import")
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if reset {
		if err := a.Portfolio.ResetAll(ctx, confirm); err != nil {
			return err
		}
		logger.Warn("store wiped by operator", zap.String("backend", cfg.StoreBackend))
	}

	if kind == "" {
		return nil
	}
	k, err := importer.ParseKind(kind)
	if err != nil {
		return err
	}
	if file == "" {
		return fmt.Errorf("-file is required with -import")
	}
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	report, err := a.Importer.Import(ctx, k, f)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
