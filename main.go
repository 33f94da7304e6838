package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gaitworks/motion.report/internal/config"
	"github.com/gaitworks/motion.report/internal/db"
	"github.com/gaitworks/motion.report/internal/motion"
	"github.com/gaitworks/motion.report/internal/motion/ingest"
	"github.com/gaitworks/motion.report/internal/motion/monitor"
	"github.com/gaitworks/motion.report/internal/motion/recorder"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode")
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Path to service config JSON")
	fixtures   = flag.String("fixtures", "fixtures.jsonl", "Landmark fixture file for the replay detector")
)

const defaultDBFile = "motion_results.db"

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyServiceConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadServiceConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	dbPath := os.Getenv("DB_URL")
	if dbPath == "" {
		dbPath = defaultDBFile
	}
	database, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	writer, err := recorder.NewWriter(cfg.GetRecordingsDir())
	if err != nil {
		log.Fatalf("failed to create recording writer: %v", err)
	}

	if err := os.MkdirAll(cfg.GetTemplatesDir(), 0755); err != nil {
		log.Fatalf("failed to create templates directory: %v", err)
	}

	// Real landmark inference lives in an external runtime; the replay
	// detector stands in for it here and carries dev mode outright.
	detectors := motion.ReplayFactory(*fixtures)
	if *devMode {
		if _, err := os.Stat(*fixtures); err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
	}

	pool := motion.NewPool(cfg.GetPoolWorkers())
	defer pool.Close()

	app := &motion.App{
		Templates:     motion.NewTemplateLibrary(cfg.GetTemplatesDir()),
		Results:       motion.NewResultStore(database.DB),
		Writer:        writer,
		Pool:          pool,
		Detectors:     detectors,
		RecordingsDir: cfg.GetRecordingsDir(),
		DefaultBand:   bandFromConfig(cfg),
		UseZ:          cfg.GetUseZ(),
		DefaultFPS:    cfg.GetDefaultFPS(),
	}

	ingestHandler := ingest.NewHandler(app)
	ingestHandler.ReadLimit = cfg.GetMaxFrameBytes()

	server := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		App:     app,
		Ingest:  ingestHandler,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Printf("web server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	wg.Wait()
}

// bandFromConfig maps the configured radius onto a band: -1 disables it,
// 0 selects automatic sizing, positive values fix the radius.
func bandFromConfig(cfg *config.ServiceConfig) motion.Band {
	switch r := cfg.GetSakoeRadius(); {
	case r < 0:
		return motion.Band{}
	case r == 0:
		return motion.Band{Enabled: true, Auto: true}
	default:
		return motion.Band{Enabled: true, Radius: r}
	}
}
