package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/iofold/iofold-sub002/pkg/config"
	"github.com/iofold/iofold-sub002/pkg/jobs/jobshttp"
	"github.com/iofold/iofold-sub002/pkg/logx"
)

func main() {
	logx.Info("🚀 Starting iofold job orchestration server...")

	// 1. Load Config and Initialize Dependency Container
	cfg := config.Load()
	container := NewContainer(cfg)
	defer container.Cleanup()

	// 2. Create Fiber App with Config
	app := fiber.New(fiber.Config{
		AppName:               "iofold jobs API",
		DisableStartupMessage: true,
		ErrorHandler:          jobshttp.ErrorHandler,
		IdleTimeout:           120 * time.Second,
	})

	// 3. Global Middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return uuid.New().String()
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, X-Workspace-ID, X-Request-ID",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))

	// 4. Health Check
	app.Get("/health", healthCheckHandler(container))

	// 5. Register Routes
	container.JobHandlers.RegisterRoutes(app)
	logx.Info("✓ Job routes registered")

	// 6. 404 Handler
	app.Use(notFoundHandler)

	// 7. Start Background Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	container.StartBackgroundServices(ctx)

	// 8. Start Server with Graceful Shutdown
	startServer(app, cfg, cancel)
}

// healthCheckHandler reports database and queue health.
func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":  "healthy",
			"service": "iofold-jobs-api",
			"version": getEnv("APP_VERSION", "1.0.0"),
		}

		if err := container.DB.Ping(); err != nil {
			health["db"] = "unhealthy"
			health["db_error"] = err.Error()
			health["status"] = "degraded"
		} else {
			health["db"] = "healthy"
		}

		if container.Redis != nil {
			if err := container.Redis.Ping(c.Context()).Err(); err != nil {
				health["queue"] = "unhealthy"
				health["queue_error"] = err.Error()
				health["status"] = "degraded"
			} else {
				health["queue"] = "healthy"
			}
		} else {
			health["queue"] = "disabled"
		}

		status := fiber.StatusOK
		if health["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}

		return c.Status(status).JSON(health)
	}
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      "Route not found",
		"code":       "NOT_FOUND",
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.Get("X-Request-ID"),
	})
}

// startServer starts the server and blocks until shutdown.
func startServer(app *fiber.App, cfg *config.Config, stopWorkers context.CancelFunc) {
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	go func() {
		logx.Infof("🚀 Server listening on port %d", cfg.Server.Port)
		logx.Infof("💚 Health Check: http://localhost:%d/health", cfg.Server.Port)

		if err := app.Listen(addr); err != nil {
			logx.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logx.Infof("🛑 Received signal: %v", sig)
	logx.Info("Shutting down gracefully...")

	// Stop accepting new work before draining HTTP connections.
	stopWorkers()

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logx.Errorf("Server forced to shutdown: %v", err)
	}

	logx.Info("✅ Server exited successfully")
}
