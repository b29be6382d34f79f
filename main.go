package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"supplier_ingest/config"
	"supplier_ingest/logging"
	"supplier_ingest/metrics"
	"supplier_ingest/models"
	"supplier_ingest/scheduler"
	"supplier_ingest/scraper"
	"supplier_ingest/services"
	"supplier_ingest/storage"
)

var (
	listCategories = flag.Bool("categories", false, "List supplier categories and exit")
	categoryURL    = flag.String("category", "", "Scrape one category page URL and exit")
	categoryName   = flag.String("category-name", "", "Category name stored on products (with -category)")
	listingURL     = flag.String("listing", "", "Scrape one listing URL and exit")
	scrapeSite     = flag.Bool("site", false, "Scrape every category and exit")
	multiplier     = flag.Float64("multiplier", 0, "Price multiplier (default PRICE_MULTIPLIER)")
	limit          = flag.Int("limit", -1, "Max listings per category, 0 for no limit (default LIMIT_PER_CATEGORY)")
	showRuns       = flag.Bool("runs", false, "Print supplier stats and recent runs and exit")
	showRun        = flag.Int64("run", 0, "Print one run with its log and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting supplier_ingest...")

	profile, err := cfg.Profile()
	if err != nil {
		log.Fatalf("Failed to select supplier: %v", err)
	}
	log.Printf("Supplier: %s (%s)", profile.Name, profile.BaseURL)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", cfg.Proxy.URL)
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	if *showRuns {
		printRuns(sqliteStore, profile.ID)
		return
	}
	if *showRun != 0 {
		printRun(sqliteStore, *showRun)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	if err := pgStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to prepare products table: %v", err)
	}
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

	s3Store, err := storage.NewS3Store(ctx, cfg.S3)
	if err != nil {
		log.Fatalf("Failed to set up object storage: %v", err)
	}

	m := metrics.New()

	productService, err := services.NewProductService(pgStore, cfg.Scraper.DuplicatePolicy, 0)
	if err != nil {
		log.Fatalf("Failed to create product service: %v", err)
	}
	mediaService := services.NewMediaService(s3Store, m)
	log.Printf("Services initialized (duplicate policy: %s)", cfg.Scraper.DuplicatePolicy)

	orchestrator := scraper.NewOrchestrator(cfg, profile, sqliteStore)
	orchestrator.SetServices(productService, mediaService)
	orchestrator.SetMetrics(m)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Router(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("Metrics listening on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
	}

	mult := cfg.Scraper.Multiplier
	if *multiplier != 0 {
		mult = *multiplier
	}
	perCategory := cfg.Scraper.LimitPerCategory
	if *limit >= 0 {
		perCategory = *limit
	}

	// Handle one-shot commands
	if *listCategories || *categoryURL != "" || *listingURL != "" || *scrapeSite {
		job, err := orchestrator.StartJob(ctx)
		if err != nil {
			log.Fatalf("Failed to start job: %v", err)
		}
		if err := runOnce(ctx, job, mult, perCategory); err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Println("Done!")
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// SIGUSR1 starts a site scrape outside the schedule
	trigger := make(chan os.Signal, 1)
	signal.Notify(trigger, syscall.SIGUSR1)
	defer signal.Stop(trigger)

	log.Println("Daemon running. Send SIGUSR1 to scrape now, Ctrl+C to stop.")
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-trigger:
			go func() {
				if err := sched.TriggerNow(ctx); err != nil {
					log.Printf("Manual run: %v", err)
				}
			}()
		}
	}

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

func runOnce(ctx context.Context, job *scraper.Job, mult float64, perCategory int) error {
	progress := func(ev models.ProgressEvent) {
		if ev.Stage.Terminal() || ev.Stage == models.StageCompleted {
			log.Printf("[%d/%d] %s %s %s", ev.Current, ev.Total, ev.Stage, ev.ListingTitle, ev.Message)
		}
	}

	switch {
	case *listCategories:
		categories, err := job.ListCategories(ctx)
		if err != nil {
			return err
		}
		for _, c := range categories {
			fmt.Printf("%s\t%s\n", c.Name, c.URL)
		}
		return nil

	case *listingURL != "":
		product, err := job.ScrapeListing(ctx, *listingURL, *categoryName, mult)
		if err != nil {
			return err
		}
		if product == nil {
			log.Println("Listing skipped: no usable images")
			return nil
		}
		return printJSON(product)

	case *categoryURL != "":
		result, err := job.ScrapeCategory(ctx, scraper.CategoryRequest{
			URL:        *categoryURL,
			Name:       *categoryName,
			Multiplier: mult,
			Limit:      perCategory,
			OnProgress: progress,
		})
		if result != nil {
			printSummary(result)
		}
		return err

	default:
		result, err := job.ScrapeSite(ctx, scraper.SiteRequest{
			Multiplier:       mult,
			LimitPerCategory: perCategory,
			OnProgress:       progress,
		})
		if result != nil {
			printSummary(result)
		}
		return err
	}
}

func printSummary(result *models.BatchResult) {
	log.Printf("Created %d, skipped %d, failed %d", len(result.Created), len(result.Skipped), len(result.Failed))
	for _, f := range result.Failed {
		log.Printf("  failed: %s (%s): %s", f.Listing.Title, f.Listing.URL, f.Reason)
	}
}

func printRuns(store *storage.SQLiteStore, supplier string) {
	stats, err := store.GetSupplierStats(supplier)
	if err != nil {
		log.Fatalf("Failed to load supplier stats: %v", err)
	}
	if stats != nil {
		last := "never"
		if stats.LastRunAt != nil {
			last = stats.LastRunAt.Format(time.RFC3339)
		}
		fmt.Printf("%s: last run %s (%s), %d created, %.0f%% successful, avg %ds\n\n",
			stats.Supplier, last, stats.LastRunStatus, stats.TotalCreated, stats.SuccessRate*100, stats.AvgRunDurationSec)
	}

	runs, err := store.ListRuns(supplier, 20)
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}
	for _, r := range runs {
		fmt.Printf("%d\t%s\t%s\t%s\tcreated=%d skipped=%d failed=%d\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Scope, r.Status, r.Created, r.Skipped, r.Failed, r.Target)
	}
}

func printRun(store *storage.SQLiteStore, id int64) {
	run, err := store.GetRun(id)
	if err != nil {
		log.Fatalf("Failed to load run %d: %v", id, err)
	}
	if run == nil {
		log.Fatalf("Run %d not found", id)
	}
	if err := printJSON(run); err != nil {
		log.Fatalf("Failed to print run: %v", err)
	}

	logs, err := store.GetRunLogs(id)
	if err != nil {
		log.Fatalf("Failed to load run logs: %v", err)
	}
	for _, l := range logs {
		fmt.Printf("%s [%s] %s\n", l.Timestamp.Format(time.RFC3339), l.Level, l.Message)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
