package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/admin"
	"github.com/ashiqtasdid/pegasus-interface-sub000/auth"
	"github.com/ashiqtasdid/pegasus-interface-sub000/broker"
	"github.com/ashiqtasdid/pegasus-interface-sub000/command"
	"github.com/ashiqtasdid/pegasus-interface-sub000/db"
	"github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"
	"github.com/ashiqtasdid/pegasus-interface-sub000/instance"
	"github.com/ashiqtasdid/pegasus-interface-sub000/liveness"
	"github.com/ashiqtasdid/pegasus-interface-sub000/monitor"
	dockerRuntime "github.com/ashiqtasdid/pegasus-interface-sub000/runtime/docker"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/docker/docker/client"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       env != "production",
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Error("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	dbConn, err := db.New(logger, db.Options{
		URI: os.Getenv("POSTGRES_URI"),
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	snapshotCache, err := liveness.NewCache(rdb, 0)
	if err != nil {
		logger.Fatal("Cannot initialize liveness Cache",
			zap.Error(err),
		)
	}

	// The broker is optional: without AMQP_URI events are only persisted,
	// not fanned out.
	var producer broker.Producer
	if uri := os.Getenv("AMQP_URI"); uri != "" {
		amqpBroker, err := broker.NewAMQPBroker(uri)
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		defer amqpBroker.Close()
		producer = amqpBroker
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.Fatal("Cannot connect to Docker",
			zap.Error(err),
		)
	}
	defer dockerClient.Close()

	adapter, err := dockerRuntime.NewClient(dockerRuntime.Options{
		Client: dockerClient,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize runtime Adapter",
			zap.Error(err),
		)
	}

	eventLogManager, err := eventlog.NewManager(eventlog.ManagerOptions{
		DB:       dbConn,
		Producer: producer,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize EventLogManager",
			zap.Error(err),
		)
	}

	instanceManager, err := instance.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize InstanceManager",
			zap.Error(err),
		)
	}

	controller, err := instance.NewController(instance.ControllerOptions{
		Store:    instanceManager,
		Adapter:  adapter,
		Recorder: eventLogManager,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize lifecycle Controller",
			zap.Error(err),
		)
	}

	commandManager, err := command.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize CommandManager",
			zap.Error(err),
		)
	}

	executor, err := command.NewExecutor(command.ExecutorOptions{
		Instances: instanceManager,
		Store:     commandManager,
		Adapter:   adapter,
		Escalator: controller,
		Recorder:  eventLogManager,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize command Executor",
			zap.Error(err),
		)
	}

	activityMonitor, err := monitor.NewMonitor(monitor.Options{
		Instances: instanceManager,
		Lifecycle: controller,
		Adapter:   adapter,
		Recorder:  eventLogManager,
		Cache:     snapshotCache,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize activity Monitor",
			zap.Error(err),
		)
	}

	commandRouter, err := command.NewService(command.ServiceOptions{
		Executor:       executor,
		CommandManager: commandManager,
		Instances:      instanceManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Command Service Router",
			zap.Error(err),
		)
	}

	instanceRouter, err := instance.NewService(instance.ServiceOptions{
		InstanceManager: instanceManager,
		Controller:      controller,
		EventLog:        eventLogManager,
		Adapter:         adapter,
		Snapshots:       snapshotCache,
		CommandRouter:   commandRouter.Router(),
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Instance Service Router",
			zap.Error(err),
		)
	}

	adminRouter, err := admin.NewService(admin.ServiceOptions{
		InstanceManager: instanceManager,
		Controller:      controller,
		HealthChecker:   activityMonitor,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Admin Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{os.Getenv("SITE_URL")},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Pegasus-User", "X-Pegasus-Admin"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Mount("/instances", instanceRouter.Router())
		r.Mount("/admin", adminRouter.Router())
	})

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	rootRouter.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "OK")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go activityMonitor.Run(ctx)

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":42069",
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	logger.Info("API server started",
		zap.String("Addr", srv.Addr),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*15)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Cannot gracefully shutdown API server",
			zap.Error(err),
		)
	}
}
