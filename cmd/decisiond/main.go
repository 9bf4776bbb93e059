// Package main is the entry point for the decision engine daemon.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/decision-engine/internal/config"
	"github.com/anthropics/decision-engine/internal/eventbus"
	"github.com/anthropics/decision-engine/internal/ipc"
	"github.com/anthropics/decision-engine/internal/pipeline"
	"github.com/anthropics/decision-engine/internal/scheduler"
	"github.com/anthropics/decision-engine/internal/sim"
	"github.com/anthropics/decision-engine/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration JSON file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("decisiond %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	// Resolve config path: --config flag > DE_CONFIG env > auto-discover next to exe.
	path := *configPath
	if path == "" {
		path = os.Getenv("DE_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		log.Fatal("no config found. Place config.json next to the exe, use --config <path>, or set DE_CONFIG.")
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	sessionTTL := time.Duration(cfg.SessionTTLDays) * 24 * time.Hour

	// Wire the event bus with its durable journal.
	bus := eventbus.New(&store.Journal{DB: db, Repo: &store.EventRepo{}})

	// Wire the simulation engine and the executors.
	engine := sim.NewEngine(sim.Config{
		TotalScenarios:      cfg.TotalScenarios,
		BatchSize:           cfg.BatchSize,
		MaxBatchConcurrency: cfg.MaxBatchConcurrency,
		MaxRetries:          cfg.MaxRetries,
		RetryBase:           time.Duration(cfg.RetryBaseMs) * time.Millisecond,
		RetryMax:            time.Duration(cfg.RetryMaxMs) * time.Millisecond,
		FailureThreshold:    cfg.BatchFailureThreshold,
	}, sim.AnnualProfitModel{})

	sched := scheduler.New(db, bus, scheduler.Config{
		MaxTaskConcurrency: cfg.MaxTaskConcurrency,
		TaskTimeout:        time.Duration(cfg.TaskTimeoutSec) * time.Second,
		MaxRetries:         cfg.MaxRetries,
		RetryBase:          time.Duration(cfg.RetryBaseMs) * time.Millisecond,
		RetryMax:           time.Duration(cfg.RetryMaxMs) * time.Millisecond,
		ResultTTL:          sessionTTL,
		ProgressEvery:      cfg.ProgressEvery,
	},
		scheduler.ResearchExecutor{},
		&scheduler.SimulationExecutor{Engine: engine, DB: db, Artifacts: &store.ArtifactRepo{}, ArtifactTTL: sessionTTL},
		scheduler.EvaluationExecutor{},
	)

	svc := pipeline.NewService(db, bus, sched, pipeline.Config{
		SessionTTL: sessionTTL,
		RunTimeout: time.Duration(cfg.RunTimeoutSec) * time.Second,
	})

	// Periodic retention sweep for expired sessions and results.
	purgeCtx, stopPurge := context.WithCancel(context.Background())
	go purgeLoop(purgeCtx, db, bus, time.Duration(cfg.PurgeIntervalMin)*time.Minute)

	handler := &ipc.Handler{Pipeline: svc}
	srv := ipc.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down...")

		stopPurge()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("decision engine listening on %s", ipc.FormatListenURL(cfg.ListenAddr))

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func purgeLoop(ctx context.Context, db *sql.DB, bus *eventbus.Bus, interval time.Duration) {
	sessions := &store.SessionRepo{}
	results := &store.ResultRepo{}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged, err := sessions.PurgeExpired(ctx, db); err != nil {
				log.Printf("purge sessions: %v", err)
			} else if len(purged) > 0 {
				// Release the in-memory event logs of the purged sessions.
				for _, id := range purged {
					bus.Drop(id)
				}
				log.Printf("purged %d expired sessions", len(purged))
			}
			if n, err := results.PurgeExpired(ctx, db); err != nil {
				log.Printf("purge results: %v", err)
			} else if n > 0 {
				log.Printf("purged %d expired task results", n)
			}
		}
	}
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
func discoverConfig() string {
	// Next to executable.
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	// Current working directory.
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}
