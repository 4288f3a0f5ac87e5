package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/relayops/agent-runtime/configs"
	db2 "github.com/relayops/agent-runtime/db"
	"github.com/relayops/agent-runtime/internal/delivery"
	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/errval"
	"github.com/relayops/agent-runtime/internal/pool"
	"github.com/relayops/agent-runtime/internal/postgres"
	"github.com/relayops/agent-runtime/internal/queue"
	"github.com/relayops/agent-runtime/internal/rabbitmq"
	"github.com/relayops/agent-runtime/internal/redis"
	"github.com/relayops/agent-runtime/internal/redisstream"
	"github.com/relayops/agent-runtime/internal/server"
	"github.com/relayops/agent-runtime/internal/service"
	"github.com/relayops/agent-runtime/pkg/agents"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	cfg := configs.InitConfig()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	ctx := context.Background()

	var archive domain.ResultArchive
	if cfg.Database.IsArchiveEnabled() {
		runMigrations(cfg)

		var err error
		archive, err = postgres.NewArchive(ctx, cfg.Database.ToDbConnectionUri())
		if err != nil {
			log.Fatal(err)
		}
		slog.Info("Result archive has been initialized successfully")
	}

	redisClient, err := redis.NewClient(cfg.Redis.ToRedisConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	slog.Info("Redis connection has been initialized successfully")

	taskQueue := queue.New(redis.NewMirror(redisClient, cfg.Runtime.MirrorKeyPrefix))
	workerPool := pool.New(cfg.Runtime.MaxWorkers)
	router := delivery.NewRouter(buildEmailSender(ctx, cfg))
	transport := buildTransport(cfg, redisClient)

	heartbeats, err := cfg.ParseHeartbeats()
	if err != nil {
		log.Fatal(err)
	}

	svc := service.New(service.Params{
		Queue:              taskQueue,
		Pool:               workerPool,
		Router:             router,
		Transport:          transport,
		Resolver:           agents.NewDefaultRegistry(),
		Archive:            archive,
		Heartbeats:         heartbeats,
		TaskTimeout:        time.Duration(cfg.Runtime.TaskTimeOutInSeconds) * time.Second,
		ShutdownTimeout:    time.Duration(cfg.Runtime.ShutdownTimeOutInSeconds) * time.Second,
		LoopStopTimeout:    time.Duration(cfg.Runtime.LoopStopTimeOutInSeconds) * time.Second,
		ResultStreamMirror: cfg.Runtime.ResultStreamMirror,
	})

	if err := svc.Start(ctx); err != nil {
		log.Fatal(err)
	}

	serverLogic := server.NewServerLogic(svc, archive)
	engine := setupHTTPServer(serverLogic, svc, archive)
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: engine,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling below
	go func() {
		log.Printf("Starting server on port %s\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Runtime.ShutdownTimeOutInSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %s\n", err)
	}

	svc.Stop()

	if err := redisClient.Close(); err != nil {
		slog.Error("An error occurred while closing Redis connection", "error", err.Error())
	}

	log.Println("Server exiting")
}

func runMigrations(cfg *configs.Config) {
	d, err := iofs.New(db2.Migrations, "migrations")
	if err != nil {
		log.Fatal(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, cfg.Database.ToMigrationUri())
	if err != nil {
		log.Fatal(err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal(err)
		}
	}
	slog.Info("Migrations ran successfully")
}

func buildTransport(cfg *configs.Config, redisClient *redis.Client) domain.Transport {
	switch cfg.Runtime.TransportDriver {
	case "rabbitmq":
		return rabbitmq.NewTransport(
			cfg.RabbitMQ.ToRabbitConnectionUri(),
			cfg.RabbitMQ.TaskQueueName,
			cfg.RabbitMQ.ResultQueueName,
			cfg.Runtime.ConsumerName,
		)
	case "redis":
		fallthrough
	default:
		return redisstream.NewTransport(
			redisClient,
			cfg.Runtime.TaskStreamName,
			cfg.Runtime.ResultStreamName,
			cfg.Runtime.ConsumerGroup,
			cfg.Runtime.ConsumerName,
		)
	}
}

func buildEmailSender(ctx context.Context, cfg *configs.Config) delivery.Sender {
	if cfg.Delivery.SESFromEmail == "" {
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("Failed to load AWS config, email delivery stays disabled", "error", err.Error())
		return nil
	}

	return delivery.NewSESSender(awsCfg, cfg.Delivery.SESFromEmail)
}

func setupHTTPServer(serverLogic *server.ServerLogic, svc *service.Service, archive domain.ResultArchive) *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_priority", validatePriority)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_priority")
		}

		err = v.RegisterValidation("validate_channel", validateChannel)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_channel")
		}
	}

	tasks := r.Group("/tasks")
	tasks.POST("", func(c *gin.Context) {
		req := domain.RouterRequestSubmitTask{}
		// Request binding and validation
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		taskID, err := serverLogic.SubmitTask(c, req)
		if err != nil {
			if err == errval.ErrNotRunning {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"task_id": taskID})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, serverLogic.GetStatus())
	})

	if archive != nil {
		results := r.Group("/results")
		results.GET("/:task_id", func(c *gin.Context) {
			result, err := serverLogic.GetResult(c, c.Param("task_id"))
			if err != nil {
				if err == errval.ErrNotFound {
					c.JSON(http.StatusNotFound, gin.H{})
					return
				}

				c.JSON(http.StatusInternalServerError, gin.H{})
				return
			}

			c.JSON(http.StatusOK, result)
		})

		results.GET("", func(c *gin.Context) {
			limit := int64(20)
			if limitStr := c.Query("limit"); limitStr != "" {
				parsed, err := strconv.ParseInt(limitStr, 10, 32)
				if err != nil || parsed < 1 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
					return
				}
				limit = parsed
			}

			results, err := serverLogic.GetRecentResults(c, int32(limit))
			if err != nil {
				if err == errval.ErrNotFound {
					c.JSON(http.StatusOK, gin.H{"results": []any{}})
					return
				}

				c.JSON(http.StatusInternalServerError, gin.H{})
				return
			}

			c.JSON(http.StatusOK, gin.H{"results": results})
		})
	}

	r.GET("/readiness", func(c *gin.Context) {
		status := svc.GetStatus()
		if status.Running {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		// Checking health of depending upon infra connections
		if !svc.IsHealthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if archive != nil {
			if err := archive.Ping(c); err != nil {
				slog.Error("Result archive health check failed", "error", err.Error())
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	return r
}

var validatePriority validator.Func = func(fl validator.FieldLevel) bool {
	priority := fl.Field().Int()
	return priority >= domain.HighestPriority && priority <= domain.LowestPriority
}

var validateChannel validator.Func = func(fl validator.FieldLevel) bool {
	channel := domain.DeliveryChannel(fl.Field().String())
	return domain.IsValidChannel(channel)
}
