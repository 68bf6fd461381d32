// Command reconciler runs the batch migration and dedup jobs once and exits.
// Intended for operational use during schema evolution and data cleanup.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/reconciliation/internal/config"
	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/logging"
	"example.com/reconciliation/internal/migrate"
	persistence "example.com/reconciliation/internal/persistence/postgres"
)

func main() {
	job := flag.String("job", "", "job to run: backfill-source, cleanup-consistency, dedup, or all")
	keepSource := flag.String("keep-source", "", "dedup keep-source policy override (device_health or fitness_network)")
	flag.Parse()

	cfg := config.Load()
	logger := logging.NewLogger("reconciler")

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	// Metrics are scraped best-effort during the run; the job does not wait
	// for a scrape before exiting.
	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("metrics server error")
		}
	}()
	defer metricsSrv.Close()

	runner := migrate.NewRunner(persistence.NewRepository(pool), logger)

	policy := cfg.DedupKeepSource
	if *keepSource != "" {
		parsed, err := domain.ParseSource(*keepSource)
		if err != nil {
			log.Fatalf("invalid keep-source: %v", err)
		}
		policy = parsed
	}

	switch *job {
	case "backfill-source":
		runBackfill(ctx, runner)
	case "cleanup-consistency":
		runCleanup(ctx, runner)
	case "dedup":
		runDedup(ctx, runner, policy)
	case "all":
		runBackfill(ctx, runner)
		runCleanup(ctx, runner)
		runDedup(ctx, runner, policy)
	default:
		log.Fatalf("unknown job %q; expected backfill-source, cleanup-consistency, dedup, or all", *job)
	}
}

func runBackfill(ctx context.Context, runner *migrate.Runner) {
	report, err := runner.BackfillSource(ctx)
	if err != nil {
		log.Fatalf("backfill-source failed: %v", err)
	}
	log.Printf("backfill-source: migrated=%d total=%d", report.MigratedCount, report.TotalActivities)
}

func runCleanup(ctx context.Context, runner *migrate.Runner) {
	report, err := runner.CleanupConsistency(ctx)
	if err != nil {
		log.Fatalf("cleanup-consistency failed: %v", err)
	}
	log.Printf("cleanup-consistency: cleaned=%d total=%d", report.CleanedCount, report.TotalActivities)
}

func runDedup(ctx context.Context, runner *migrate.Runner, keepSource domain.Source) {
	report, err := runner.AutomatedDedup(ctx, keepSource)
	if err != nil {
		log.Fatalf("dedup failed: %v", err)
	}
	log.Printf("dedup: removed=%d kept_source=%s total=%d", report.DuplicatesRemoved, report.KeptSource, report.TotalActivities)
}
