package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/config"
	"github.com/dvloznov/reconciler/internal/di"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/gcsuploader"
	"github.com/dvloznov/reconciler/internal/logger"
	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type command struct {
	usage string
	run   func(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error)
}

var commands = map[string]command{
	"import":     {"Import a statement file (local path or gs:// URI)", runImport},
	"imports":    {"List imports, optionally for one bank account", runImports},
	"movements":  {"List the movements of an import", runMovements},
	"match":      {"Run the matching engine on an import", runMatch},
	"approve":    {"Approve a suggested movement", runApprove},
	"reject":     {"Reject a suggested movement", runReject},
	"discard":    {"Discard a pending movement", runDiscard},
	"link":       {"Link a pending movement to a ledger movement", runLink},
	"finalize":   {"Finalize an import once nothing is unresolved", runFinalize},
	"candidates": {"Search ledger candidates for manual linking", runCandidates},
}

var order = []string{"import", "imports", "movements", "match", "approve", "reject", "discard", "link", "finalize", "candidates"}

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log, err = logger.Configure(os.Stderr, cfg.LogLevel, logger.FormatConsole)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid logging configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	container, err := di.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service")
	}

	out, err := cmd.run(ctx, container.Service, os.Args[2:])
	if cerr := container.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("Failed to release resources")
	}
	if err != nil {
		exitWithError(log, name, err)
	}
	printJSON(out)
}

func printUsage() {
	fmt.Println("Reconciler CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	for _, name := range order {
		fmt.Printf("  %-11s %s\n", name, commands[name].usage)
	}
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func exitWithError(log zerolog.Logger, name string, err error) {
	ev := log.Error().Err(err).Str("command", name)
	if kind := domain.KindOf(err); kind != "" {
		ev = ev.Str("kind", string(kind))
	}
	ev.Msg("Command failed")
	os.Exit(1)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.ValidationErrorf("-%s is required", name)
	}
	return nil
}

func runImport(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	account := fs.String("account", "", "Bank account ID")
	file := fs.String("file", "", "Local path or gs://bucket/object URI")
	format := fs.String("format", "", "delimited, norma43, camt053 or pdf; empty detects")
	formatConfig := fs.String("format-config", "", "Delimited format config as JSON")
	fs.Parse(args)

	if err := required("account", *account); err != nil {
		return nil, err
	}
	if err := required("file", *file); err != nil {
		return nil, err
	}
	f, err := domain.ParseFormat(*format)
	if err != nil {
		return nil, err
	}

	var content []byte
	if strings.HasPrefix(*file, "gs://") {
		content, err = gcsuploader.FetchFromGCS(ctx, *file)
	} else {
		content, err = os.ReadFile(*file)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", *file, err)
	}

	req := reconcile.ImportRequest{
		BankAccountID: *account,
		Filename:      filepath.Base(*file),
		Content:       content,
		Format:        f,
	}
	if *formatConfig != "" {
		var fc domain.FormatConfig
		if err := json.Unmarshal([]byte(*formatConfig), &fc); err != nil {
			return nil, domain.ValidationErrorf("invalid -format-config: %v", err)
		}
		req.FormatConfig = &fc
	}
	return svc.CreateImport(ctx, req)
}

func runImports(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("imports", flag.ExitOnError)
	account := fs.String("account", "", "Bank account ID (optional)")
	fs.Parse(args)

	return svc.ListImports(ctx, *account)
}

func runMovements(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("movements", flag.ExitOnError)
	importID := fs.String("import", "", "Import ID")
	status := fs.String("status", "", "Filter by status")
	page := fs.Int("page", 1, "Page number")
	pageSize := fs.Int("page-size", reconcile.DefaultPageSize, "Page size")
	fs.Parse(args)

	if err := required("import", *importID); err != nil {
		return nil, err
	}
	var st domain.MovementStatus
	if *status != "" {
		var err error
		if st, err = domain.ParseMovementStatus(*status); err != nil {
			return nil, err
		}
	}
	return svc.ListMovements(ctx, *importID, st, *page, *pageSize)
}

func runMatch(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	importID := fs.String("import", "", "Import ID")
	fs.Parse(args)

	if err := required("import", *importID); err != nil {
		return nil, err
	}
	result, err := svc.RunMatching(ctx, *importID)
	var aborted *reconcile.MatchAbortedError
	if errors.As(err, &aborted) {
		// Print what was done before exiting non-zero.
		printJSON(aborted.Report())
		return nil, err
	}
	return result, err
}

func movementFlag(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, fs.String("movement", "", "Statement movement ID")
}

func runApprove(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs, movementID := movementFlag("approve")
	fs.Parse(args)

	if err := required("movement", *movementID); err != nil {
		return nil, err
	}
	return svc.Approve(ctx, *movementID)
}

func runReject(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs, movementID := movementFlag("reject")
	fs.Parse(args)

	if err := required("movement", *movementID); err != nil {
		return nil, err
	}
	return svc.Reject(ctx, *movementID)
}

func runDiscard(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs, movementID := movementFlag("discard")
	reason := fs.String("reason", "", "Why the movement has no ledger counterpart")
	fs.Parse(args)

	if err := required("movement", *movementID); err != nil {
		return nil, err
	}
	return svc.Discard(ctx, *movementID, *reason)
}

func runLink(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs, movementID := movementFlag("link")
	ledgerID := fs.String("ledger", "", "Ledger movement ID")
	fs.Parse(args)

	if err := required("movement", *movementID); err != nil {
		return nil, err
	}
	if err := required("ledger", *ledgerID); err != nil {
		return nil, err
	}
	return svc.LinkManually(ctx, *movementID, *ledgerID)
}

func runFinalize(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("finalize", flag.ExitOnError)
	importID := fs.String("import", "", "Import ID")
	fs.Parse(args)

	if err := required("import", *importID); err != nil {
		return nil, err
	}
	return svc.FinalizeImport(ctx, *importID)
}

func runCandidates(ctx context.Context, svc *reconcile.Service, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("candidates", flag.ExitOnError)
	account := fs.String("account", "", "Bank account ID")
	direction := fs.String("direction", "", "credit or debit")
	amount := fs.String("amount", "", "Absolute amount, e.g. 150.00")
	date := fs.String("date", "", "Value date, YYYY-MM-DD")
	concept := fs.String("concept", "", "Concept text (optional)")
	fs.Parse(args)

	dir, err := domain.ParseDirection(*direction)
	if err != nil {
		return nil, err
	}
	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		return nil, domain.ValidationErrorf("invalid -amount %q", *amount)
	}
	d, err := civil.ParseDate(*date)
	if err != nil {
		return nil, domain.ValidationErrorf("invalid -date %q, want YYYY-MM-DD", *date)
	}
	return svc.SearchCandidates(ctx, reconcile.CandidateSearch{
		BankAccountID: *account,
		Direction:     dir,
		Amount:        amt,
		Date:          d,
		Concept:       *concept,
	})
}
