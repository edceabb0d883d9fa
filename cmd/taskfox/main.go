package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ManuelReschke/TaskFox/internal/pkg/cache"
	"github.com/ManuelReschke/TaskFox/internal/pkg/database"
	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
	"github.com/ManuelReschke/TaskFox/internal/pkg/integrations"
	"github.com/ManuelReschke/TaskFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TaskFox/internal/pkg/router"
)

func main() {
	app := NewApplication()

	manager := jobqueue.GetManager()
	manager.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("[Main] Shutting down...")
		manager.Stop()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *fiber.App {
	if !env.SetupEnvFile() {
		log.Warn("[Main] No .env file found, using process environment")
	}
	accessLog := setupLogging()

	database.SetupDatabase()
	cache.SetupCache()

	reg, err := integrations.Setup(context.Background(), database.GetDB())
	if err != nil {
		// The web app still serves login and lists; sync endpoints answer 503.
		log.Errorf("[Main] Task sync disabled: %v", err)
	} else {
		jobqueue.GetManager().Configure(reg.Sync, reg.Store)
	}

	basePath := findBasePath()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New(logger.Config{Output: accessLog}))

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}

// setupLogging routes application logs to LOG_FILE (rotated) when set and
// applies LOG_LEVEL. It returns the writer for the HTTP access log.
func setupLogging() io.Writer {
	var out io.Writer = os.Stdout
	if file := env.GetEnv("LOG_FILE", ""); file != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    env.GetEnvInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: env.GetEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAge:     env.GetEnvInt("LOG_MAX_AGE_DAYS", 28),
			Compress:   true,
		})
	}
	log.SetOutput(out)
	log.SetLevel(parseLevel(env.GetEnv("LOG_LEVEL", "info")))
	return out
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	}
	return log.LevelInfo
}

func findBasePath() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/taskfox to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			return path
		}
	}
	return "./"
}
