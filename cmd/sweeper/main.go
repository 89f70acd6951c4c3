package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/broker"
	"github.com/ashiqtasdid/pegasus-interface-sub000/db"
	"github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"
	"github.com/ashiqtasdid/pegasus-interface-sub000/instance"
	"github.com/ashiqtasdid/pegasus-interface-sub000/liveness"
	"github.com/ashiqtasdid/pegasus-interface-sub000/monitor"
	dockerRuntime "github.com/ashiqtasdid/pegasus-interface-sub000/runtime/docker"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/docker/docker/client"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

// The sweeper is the standalone activity-monitor process: it runs the same
// recurring sweep the API can host, for deployments that want probing and
// idle shutdown isolated from request serving. Run one of the two, not both.
func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

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

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       env != "production",
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "sweeper",
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
		URI:          os.Getenv("POSTGRES_URI"),
		MaxOpenConns: 5,
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

	var interval time.Duration
	if seconds, err := strconv.Atoi(os.Getenv("SWEEP_INTERVAL_SECONDS")); err == nil && seconds > 0 {
		interval = time.Duration(seconds) * time.Second
	}

	activityMonitor, err := monitor.NewMonitor(monitor.Options{
		Instances: instanceManager,
		Lifecycle: controller,
		Adapter:   adapter,
		Recorder:  eventLogManager,
		Cache:     snapshotCache,
		Logger:    logger,
		Interval:  interval,
	})
	if err != nil {
		logger.Fatal("Cannot initialize activity Monitor",
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go activityMonitor.Run(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c
	cancel()
}
