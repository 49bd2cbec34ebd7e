package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prizedraw/internal/api"
	"prizedraw/internal/config"
	"prizedraw/internal/draw"
	"prizedraw/internal/lockreg"
	"prizedraw/internal/monitor"
	"prizedraw/internal/notify"
	"prizedraw/internal/obs"
	"prizedraw/internal/optrack"
	"prizedraw/internal/payment"
	"prizedraw/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prize draw HTTP service",
	Long: wrapString(`Start the HTTP service. Settings come from flags, PRIZEDRAW_* environment
variables, or a .env file in the working directory.`),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	config.AddServeFlags(serveCmd)
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := obs.NewLoggerTo(os.Stdout, cfg.LogLevel)
	log := logger.Component("main")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(promReg)

	db, err := storage.Open(ctx, storage.Config{
		Path:         cfg.DBPath,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	store := storage.NewStore(db, cfg.Catalog, nil)

	tracker := optrack.New(nil, logger.Component("optrack"), metrics)
	reg := lockreg.NewRegistry(lockreg.Config{
		DefaultTimeout: cfg.LockTimeout,
		Logger:         logger.Component("lockreg"),
		Metrics:        metrics,
		Operations:     tracker,
	})

	notifiers := notify.Multi{notify.NewLogNotifier(logger.Component("notify"))}
	if cfg.RedisURL != "" {
		rn, err := notify.NewRedisNotifier(cfg.RedisURL, cfg.RedisList, cfg.RedisChannel)
		if err != nil {
			return err
		}
		defer rn.Close()
		notifiers = append(notifiers, rn)
	}

	engine := draw.NewEngine(draw.Config{
		Registry:     reg,
		Tracker:      tracker,
		Catalog:      cfg.Catalog,
		Participants: store,
		Ledger:       store,
		Notifier:     notifiers,
		Location:     cfg.Location,
		LockTimeout:  cfg.LockTimeout,
		StaleAfter:   cfg.OpStaleAfter,
		Logger:       logger.Component("draw"),
		Metrics:      metrics,
	})
	payments := payment.NewService(payment.Config{
		Registry:    reg,
		Ledger:      store,
		Notifier:    notifiers,
		LockTimeout: cfg.LockTimeout,
		Logger:      logger.Component("payment"),
		Metrics:     metrics,
	})

	mon := monitor.New(reg, tracker, logger.Component("monitor"), metrics, monitor.Config{
		Interval: cfg.SweepInterval,
		OpMaxAge: cfg.OpStaleAfter,
		HoldWarn: cfg.HoldWarn,
	})

	apiServer := api.NewServer(api.Deps{
		Engine:    engine,
		Payments:  payments,
		Registry:  reg,
		Store:     store,
		BackupDir: cfg.BackupDir,
		Gatherer:  promReg,
		Logger:    logger.Component("api"),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	errc := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info(map[string]interface{}{
			"event":    "listening",
			"addr":     cfg.Addr,
			"db":       cfg.DBPath,
			"draws":    len(cfg.Catalog),
			"timezone": cfg.Location.String(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info(map[string]interface{}{"event": "shutdown"})

	shutdownCtx, stopShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(map[string]interface{}{"event": "http_shutdown", "error": err.Error()})
	}
	wg.Wait()

	select {
	case err := <-errc:
		return err
	default:
	}
	log.Info(map[string]interface{}{"event": "stopped"})
	return nil
}
