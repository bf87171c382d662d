package appServer

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ds124wfegd/rafflr/config"
	"github.com/ds124wfegd/rafflr/internal/database"
	"github.com/ds124wfegd/rafflr/internal/database/memory"
	repository "github.com/ds124wfegd/rafflr/internal/database/postgres"
	"github.com/ds124wfegd/rafflr/internal/notifier"
	"github.com/ds124wfegd/rafflr/internal/service"
	"github.com/ds124wfegd/rafflr/internal/transport"
	"github.com/ds124wfegd/rafflr/internal/worker"
	"github.com/ds124wfegd/rafflr/pkg/postgres"
	"github.com/ds124wfegd/rafflr/pkg/queue"
	"github.com/ds124wfegd/rafflr/pkg/redis"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags),
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// App holds the wired dependencies of one process
type App struct {
	Config  *config.Config
	Store   database.Store
	Sale    service.SaleService
	Ticker  *worker.TickWorker
	Emitter notifier.Emitter
	// Queue is set only for the redis notifier
	Queue *queue.RedisQueue

	closers []func() error
}

// ConfigureLogging настраивает logrus из секции log
func ConfigureLogging(cfg *config.LogConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// Build wires the store, notifier, sale service and tick worker selected by cfg.
func Build(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	store, err := app.openStore()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	var redisClient *goredis.Client
	if cfg.Notifier.Driver == "redis" {
		redisClient, err = redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, redisClient.Close)
	}

	emitter, err := notifier.New(&cfg.Notifier, redisClient)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}
	// эмиттер закрывается раньше клиента Redis
	app.closers = append([]func() error{emitter.Close}, app.closers...)
	app.Emitter = emitter
	if qe, ok := emitter.(*notifier.QueueEmitter); ok {
		if rq, ok := qe.Queue().(*queue.RedisQueue); ok {
			app.Queue = rq
		}
	}
	logrus.WithField("driver", cfg.Notifier.Driver).Info("Notifier initialized")

	clk := clock.New()
	sale, err := service.NewSaleService(store, emitter, clk, rand.Reader, cfg.Sale)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Sale = sale
	app.Ticker = worker.NewTickWorker(sale, clk, cfg.Worker.TickInterval, cfg.Worker.BatchSize)

	return app, nil
}

func (a *App) openStore() (database.Store, error) {
	switch a.Config.Store.Driver {
	case "postgres":
		db, err := postgres.NewPostgresDB(&a.Config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		if err := postgres.RunMigrations(db); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logrus.Info("Postgres ledger store initialized")
		return repository.NewLedgerRepository(db), nil
	default:
		logrus.Warn("Using in-memory ledger store, data is lost on restart")
		return memory.NewStore(), nil
	}
}

// QueueInspector returns nil unless events go through the Redis queue.
func (a *App) QueueInspector() transport.QueueInspector {
	if a.Queue == nil {
		return nil
	}
	return a.Queue
}

// Close releases everything Build opened, in order.
func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logrus.WithError(err).Warn("Error while closing resource")
		}
	}
	a.closers = nil
}

// NewServer runs the HTTP API and the tick worker until SIGINT or SIGTERM.
func NewServer(cfg *config.Config) error {
	app, err := Build(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		app.Ticker.Start(ctx)
		close(workerDone)
	}()

	if cfg.Server.Mode == "release" || cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := transport.InitRoutes(
		transport.NewListingHandler(app.Sale),
		transport.NewReservationHandler(app.Sale),
		transport.NewAdminHandler(app.Sale, app.Ticker, app.QueueInspector()),
		transport.RouterConfig{
			RequestTimeout: cfg.Server.RequestTimeout,
			WebhookSecret:  cfg.Payment.WebhookSecret,
			AppVersion:     cfg.Server.AppVersion,
		},
	)

	srv := new(Server)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Run(cfg, router); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logrus.WithField("addr", cfg.GetServerAddress()).Print("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
	case err := <-serverErr:
		logrus.Errorf("error occured while running http server: %s", err.Error())
	}

	logrus.Print("App Shutting Down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("error occured on server shutting down: %s", err.Error())
	}

	cancel()
	<-workerDone
	return nil
}

// RunTick runs a single scheduler pass and exits.
func RunTick(cfg *config.Config) error {
	app, err := Build(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Ticker.RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("tick failed: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"expired":   report.Expired,
		"evaluated": report.Evaluated,
		"drawn":     report.Drawn,
		"cancelled": report.Cancelled,
	}).Info("Tick finished")
	return nil
}

// RunMigrate applies the postgres schema.
func RunMigrate(cfg *config.Config) error {
	db, err := postgres.NewPostgresDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logrus.Info("Migrations applied")
	return nil
}

// RunNotify consumes the Redis event list and logs every delivered event.
func RunNotify(cfg *config.Config) error {
	client, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	q := queue.NewRedisQueue(client, queue.DefaultRedisQueueConfig(cfg.Notifier.RedisList))
	sink := notifier.NewLogEmitter()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = q.Subscribe(ctx, func(ctx context.Context, msg *queue.Message) error {
		return sink.Emit(ctx, notifier.MessageToEvent(msg))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	logrus.WithField("list", cfg.Notifier.RedisList).Info("Event consumer started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	cancel()
	return q.Close()
}
