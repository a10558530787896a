// Command ariabot runs the Telegram control plane for an aria2-compatible
// download engine: command/callback dispatch, the task monitor loop, the
// notification reconciler, and the optional daily digest.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ariabot/ariabot/internal/audit"
	"github.com/ariabot/ariabot/internal/bot"
	"github.com/ariabot/ariabot/internal/config"
	"github.com/ariabot/ariabot/internal/digest"
	"github.com/ariabot/ariabot/internal/doctor"
	"github.com/ariabot/ariabot/internal/engineclient"
	"github.com/ariabot/ariabot/internal/history"
	"github.com/ariabot/ariabot/internal/monitor"
	"github.com/ariabot/ariabot/internal/notifier"
	otelpkg "github.com/ariabot/ariabot/internal/otel"
	"github.com/ariabot/ariabot/internal/pagestate"
	"github.com/ariabot/ariabot/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                Run the bot (default)
  %s doctor [-json] Run startup diagnostics and exit

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  ARIABOT_HOME         Data directory (default: ~/.ariabot)
  TELEGRAM_TOKEN       Overrides telegram.token from config.yaml
  ARIA2_SECRET         Overrides aria2.secret from config.yaml
  ARIABOT_LOG_LEVEL    Overrides logging.level from config.yaml
`)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 && args[0] == "doctor" {
		os.Exit(runDoctorCommand(ctx, args[1:]))
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load failed", err)
	}
	if cfg.NeedsGenesis {
		fmt.Fprintf(os.Stderr, "No config.yaml found at %s.\nCreate one with a telegram.token and telegram.authorized_users, then restart.\n", config.ConfigPath(cfg.HomeDir))
		os.Exit(1)
	}

	auditLogger, err := audit.New(filepath.Join(cfg.HomeDir, "audit.jsonl"))
	if err != nil {
		fatalStartup(nil, "audit init failed", err)
	}
	defer auditLogger.Close()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.Logging.Level, cfg.Logging.Quiet)
	if err != nil {
		fatalStartup(nil, "logger init failed", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded")

	otelProvider, err := otelpkg.Init(ctx, otelpkg.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "otel init failed", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelpkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "otel metrics init failed", err)
	}

	engine := engineclient.New(engineclient.Config{
		BaseURL:       cfg.Aria2BaseURL(),
		Secret:        cfg.Aria2.Secret,
		MaxConcurrent: int64(cfg.Monitor.MaxConcurrentFetches),
		Metrics:       metrics,
		Logger:        logger,
	})

	diag := doctor.Run(ctx, &cfg, Version)
	if !diag.Healthy() {
		for _, r := range diag.Results {
			if r.Status == "FAIL" {
				logger.Error("startup check failed", "check", r.Name, "message", r.Message)
			}
		}
		fatalStartup(logger, "startup diagnostics failed", fmt.Errorf("engine unreachable at %s", cfg.Aria2BaseURL()))
	}
	logger.Info("startup phase", "phase", "doctor_passed")

	hist, err := history.Open(cfg.Database.Path, cfg.Database.MaxHistory)
	if err != nil {
		fatalStartup(logger, "history store init failed", err)
	}
	defer hist.Close()
	hist.SetMetrics(metrics)
	logger.Info("startup phase", "phase", "history_opened", "path", cfg.Database.Path)

	pages := pagestate.New()

	authorizedID := make(map[int64]struct{}, len(cfg.Telegram.AuthorizedUsers))
	for _, id := range cfg.Telegram.AuthorizedUsers {
		authorizedID[id] = struct{}{}
	}

	// Channel is constructed with a nil Monitor and wired up via SetMonitor
	// below: the monitor needs an Editor implemented by *bot.Channel, and
	// the channel needs a Monitor, so neither can be built fully first.
	channel := bot.New(bot.Config{
		Token:        cfg.Telegram.Token,
		AuthorizedID: authorizedID,
		Engine:       engine,
		History:      hist,
		Pages:        pages,
		Audit:        auditLogger,
		ItemsPerPage: cfg.Pagination.ItemsPerPage,
		Logger:       logger,
		Metrics:      metrics,
	})

	mon := monitor.New(monitor.Config{
		Engine:   engine,
		History:  hist,
		Editor:   channel,
		Logger:   logger,
		Interval: cfg.MonitorInterval(),
		MaxFetch: int64(cfg.Monitor.MaxConcurrentFetches),
		Metrics:  metrics,
	})
	channel.SetMonitor(mon)

	reconciler := notifier.New(notifier.Config{
		History:     hist,
		Sender:      channel,
		NotifyUsers: cfg.Telegram.NotifyUsers,
		Enabled:     cfg.Notification.Enabled,
		Logger:      logger,
		Interval:    cfg.NotificationInterval(),
		Metrics:     metrics,
	})

	digestScheduler, err := digest.New(digest.Config{
		History:     hist,
		Sender:      channel,
		NotifyUsers: cfg.Telegram.NotifyUsers,
		Enabled:     cfg.Digest.Enabled,
		CronExpr:    cfg.Digest.CronExpr,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		fatalStartup(logger, "digest scheduler init failed", err)
	}

	mon.Start(ctx)
	defer mon.Stop()
	reconciler.Start(ctx)
	defer reconciler.Stop()
	digestScheduler.Start(ctx)
	defer digestScheduler.Stop()

	channelErr := make(chan error, 1)
	go func() {
		channelErr <- channel.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-channelErr:
		if err != nil {
			logger.Error("telegram channel exited with error", "error", err)
		}
		stop()
	}

	logger.Info("shutdown complete")
}

func runDoctorCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load()
	if err != nil && !cfg.NeedsGenesis {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
	}

	diag := doctor.Run(ctx, &cfg, Version)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding json: %v\n", err)
			return 1
		}
		if !diag.Healthy() {
			return 1
		}
		return 0
	}

	fmt.Printf("ariabot Doctor Report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("System: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")

	for _, res := range diag.Results {
		icon := "PASS"
		switch res.Status {
		case "FAIL":
			icon = "FAIL"
		case "WARN":
			icon = "WARN"
		case "SKIP":
			icon = "SKIP"
		}
		fmt.Printf("[%s] %-12s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("       %s\n", res.Detail)
		}
	}

	if !diag.Healthy() {
		return 1
	}
	return 0
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: %s: %s\n", reasonCode, message)
	}
	os.Exit(1)
}
