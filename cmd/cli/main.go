package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/envelope-ledger/internal/backup"
	"github.com/dvloznov/envelope-ledger/internal/bank"
	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
	"github.com/dvloznov/envelope-ledger/internal/eventstore/sqlite"
	"github.com/dvloznov/envelope-ledger/internal/ledger"
	"github.com/dvloznov/envelope-ledger/internal/logger"
	"github.com/dvloznov/envelope-ledger/internal/rules"
	"github.com/dvloznov/envelope-ledger/internal/syncer"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "balances":
		runBalances(log)
	case "run-rules":
		runRules(log)
	case "sync":
		runSync(log)
	case "import":
		runImport(log)
	case "backup":
		runBackup(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Envelope Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  balances   Show projected bucket balances and the unassigned pool")
	fmt.Println("  run-rules  Evaluate funding rules (preview by default, -apply to commit)")
	fmt.Println("  sync       Run one sync cycle against a remote endpoint")
	fmt.Println("  import     Import transactions from a bank CSV export")
	fmt.Println("  backup     Export a ledger snapshot to GCS")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// openStore opens the SQLite store at the given path. Every command goes
// through the durable store; the CLI has no in-memory mode.
func openStore(log zerolog.Logger, path string) *sqlite.Store {
	if path == "" {
		path = os.Getenv("LEDGER_DB")
	}
	if path == "" {
		log.Fatal().Msg("Error: --db is required (or set LEDGER_DB)")
	}
	store, err := sqlite.NewStore(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to open database")
	}
	return store
}

func deviceID() string {
	if id := os.Getenv("DEVICE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "cli"
	}
	return host
}

func runBalances(log zerolog.Logger) {
	fs := flag.NewFlagSet("balances", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite database path")
	fs.Parse(os.Args[2:])

	store := openStore(log, *dbPath)
	defer store.Close()

	ctx := logger.WithContext(context.Background(), log)

	snap, err := ledger.SnapshotFromStore(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}
	proj := ledger.New(snap)

	balances := proj.BucketBalances()
	fmt.Printf("\n=== Buckets (%d) ===\n", len(balances))
	for _, b := range balances {
		marker := ""
		if b.Overspent {
			marker = "  OVERSPENT"
		}
		fmt.Printf("%-30s assigned %10s  activity %10s  available %10s%s\n",
			b.Bucket.Name, b.Assigned.StringFixed(2), b.Activity.StringFixed(2), b.Available.StringFixed(2), marker)
	}
	fmt.Printf("\nUnassigned: %s\n", proj.UnassignedBalance().StringFixed(2))
}

func runRules(log zerolog.Logger) {
	fs := flag.NewFlagSet("run-rules", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite database path")
	trigger := fs.String("trigger", string(domain.TriggerManualRun), "Trigger type to evaluate")
	date := fs.String("date", "", "Evaluation date as YYYY-MM-DD (defaults to today)")
	apply := fs.Bool("apply", false, "Commit the proposed allocations")
	fs.Parse(os.Args[2:])

	evalDate := time.Now()
	if *date != "" {
		parsed, err := time.Parse("2006-01-02", *date)
		if err != nil {
			log.Fatal().Err(err).Msg("Error: invalid --date")
		}
		evalDate = parsed
	}

	store := openStore(log, *dbPath)
	defer store.Close()

	ctx := logger.WithContext(context.Background(), log)

	snap, err := ledger.SnapshotFromStore(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}
	proj := ledger.New(snap)

	ruleSet, err := store.ListRules(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list rules")
	}
	buckets := make(map[string]domain.Bucket, len(snap.Buckets))
	for _, b := range snap.Buckets {
		buckets[b.ID] = b
	}

	engine := rules.NewEngine(log)
	proposals := engine.Evaluate(ruleSet, buckets, proj.Available, rules.Trigger{
		Type: domain.TriggerType(*trigger),
		Date: evalDate,
	}, proj.UnassignedBalance())

	if len(proposals) == 0 {
		fmt.Println("No rules matched.")
		return
	}

	fmt.Printf("\n=== Proposals (%d) ===\n", len(proposals))
	for _, p := range proposals {
		name := p.BucketID
		if b, ok := buckets[p.BucketID]; ok {
			name = b.Name
		}
		fmt.Printf("%-30s -> %-30s %10s\n", p.RuleName, name, p.Amount.StringFixed(2))
	}

	if !*apply {
		fmt.Println("\nPreview only. Re-run with -apply to commit.")
		return
	}

	applied, err := engine.Apply(ctx, store, proposals, deviceID())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to apply proposals")
	}
	fmt.Printf("\nApplied %d allocations.\n", len(applied))
}

func runSync(log zerolog.Logger) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite database path")
	endpoint := fs.String("endpoint", "", "Remote sync endpoint base URL")
	fs.Parse(os.Args[2:])

	if *endpoint == "" {
		log.Fatal().Msg("Error: --endpoint is required")
	}

	store := openStore(log, *dbPath)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	state, err := store.GetSyncState(ctx, *endpoint)
	if errors.Is(err, eventstore.ErrNotFound) {
		state = &domain.SyncState{DeviceID: deviceID(), Endpoint: *endpoint, Enabled: true}
	} else if err != nil {
		log.Fatal().Err(err).Msg("Failed to load sync state")
	}

	coord := syncer.NewCoordinator(store, syncer.NewHTTPRemote(*endpoint))
	if err := coord.Sync(ctx, state); err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed. Cursor at %s seq %d.\n",
		state.LastSyncedAt.Format(time.RFC3339), state.LastSequence)
}

func runImport(log zerolog.Logger) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite database path")
	file := fs.String("file", "", "Path to the bank CSV export")
	start := fs.String("start", "", "Start date as YYYY-MM-DD (optional)")
	end := fs.String("end", "", "End date as YYYY-MM-DD (optional)")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal().Msg("Error: --file is required")
	}

	var startDate, endDate time.Time
	var err error
	if *start != "" {
		if startDate, err = time.Parse("2006-01-02", *start); err != nil {
			log.Fatal().Err(err).Msg("Error: invalid --start")
		}
	}
	if *end != "" {
		if endDate, err = time.Parse("2006-01-02", *end); err != nil {
			log.Fatal().Err(err).Msg("Error: invalid --end")
		}
	}

	store := openStore(log, *dbPath)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	importer := bank.NewImporter(store, rules.NewEngine(log), deviceID())
	stats, err := importer.Import(ctx, bank.NewCSVFeed(*file), startDate, endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	fmt.Printf("Import completed: %d created, %d updated, %d skipped, %d allocations.\n",
		stats.Created, stats.Updated, stats.Skipped, stats.Allocated)
}

func runBackup(log zerolog.Logger) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite database path")
	bucketName := fs.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket name (or set GCS_BUCKET env)")
	fs.Parse(os.Args[2:])

	if *bucketName == "" {
		log.Fatal().Msg("Error: --bucket is required")
	}

	store := openStore(log, *dbPath)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	uri, err := backup.Export(ctx, store, backup.NewGCSUploader(*bucketName), deviceID())
	if err != nil {
		log.Fatal().Err(err).Msg("Backup failed")
	}

	fmt.Printf("Snapshot uploaded to %s\n", uri)
}
