// Package main boots the Sympla to HubSpot contact sync service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	gosync "sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/homemade/symphub/internal/httpapi"
	"github.com/homemade/symphub/internal/obs"
	"github.com/homemade/symphub/sync"
)

func main() {
	var configPath string
	var printMappings bool
	flag.StringVar(&configPath, "config", "", "path to a YAML config override layered on the embedded defaults")
	flag.BoolVar(&printMappings, "mappings", false, "print the field mapping documentation as CSV and exit")
	flag.Parse()

	cfg, err := sync.LoadConfig(sync.OSEnvVar{}, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if printMappings {
		csv, err := sync.GenerateFieldDocumentation(cfg).FormatCSV()
		if err != nil {
			fmt.Fprintf(os.Stderr, "mapping documentation error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(csv)
		return
	}

	obs.InitLogger()
	obs.Logger.Info("service_starting")
	if cfg.Webhook.Secret == "" {
		obs.Logger.Warn("webhook_signature_check_disabled", "reason", "no WEBHOOK_SECRET configured")
	}

	ledger, err := sync.NewLedger(cfg.Ledger)
	if err != nil {
		obs.Logger.Error("ledger_init_error", "error", err.Error())
		os.Exit(1)
	}
	obs.Logger.Info("ledger_ready", "entries", ledger.Len())

	// the run lock is owned here, next to the ledger, so polling runs stay
	// serialized across config-reload orchestrator swaps
	runLock := &gosync.Mutex{}
	var current atomic.Pointer[sync.Orchestrator]
	current.Store(sync.NewOrchestrator(&sync.SyncContext{Config: cfg}, ledger, runLock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Scheduler.EventID != "" {
		scheduler := sync.NewScheduler(cfg.Scheduler.PollInterval(), func(ctx context.Context) (sync.SyncSummary, error) {
			return current.Load().SyncEvent(ctx)
		})
		go scheduler.Run(ctx)
	} else {
		obs.Logger.Info("polling_disabled", "reason", "no SYMPLA_EVENT_ID configured")
	}

	if configPath != "" {
		go watchConfig(ctx, configPath, ledger, runLock, &current)
	}

	app := httpapi.NewApp(cfg.Webhook.Secret, func() httpapi.Syncer {
		return current.Load()
	})
	mux := httpapi.NewRouter(app)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err.Error())
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	cancel()
	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err.Error())
	}

	if err := ledger.Persist(); err != nil {
		obs.Logger.Error("ledger_persist_error", "error", err.Error())
	}
	obs.Logger.Info("service_stopped")
}

// watchConfig reloads the override file on change and swaps in a rebuilt
// orchestrator. In-flight runs finish on the old instance; the ledger and
// run lock are shared so dedup state and run exclusion survive the swap.
func watchConfig(ctx context.Context, configPath string, ledger sync.Ledger, runLock *gosync.Mutex, current *atomic.Pointer[sync.Orchestrator]) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		obs.Logger.Error("config_watch_error", "error", err.Error())
		return
	}
	defer watcher.Close()

	if err := watcher.Add(configPath); err != nil {
		obs.Logger.Error("config_watch_error", "path", configPath, "error", err.Error())
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := sync.LoadConfig(sync.OSEnvVar{}, configPath)
			if err != nil {
				obs.Logger.Error("config_reload_error", "error", err.Error())
				continue
			}
			current.Store(sync.NewOrchestrator(&sync.SyncContext{Config: cfg}, ledger, runLock))
			obs.Logger.Info("config_reloaded", "path", configPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			obs.Logger.Error("config_watch_error", "error", err.Error())
		}
	}
}
