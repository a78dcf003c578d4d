package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/handlers"
	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "🚀 Start the studio server",
	Long: `# 🚀 Atelier Server

**Start the studio backend**: the dev-server orchestrator plus its HTTP API,
SSE event stream, and WebSocket log streams.

## 🌐 Endpoints

- **POST /v1/devservers** - start a worktree dev server
- **DELETE /v1/devservers?worktree=** - stop one
- **GET /v1/devservers** - list running servers
- **GET /v1/devservers/logs?worktree=** - scrollback history
- **GET /v1/devservers/logs/ws?worktree=** - live log stream
- **GET /v1/events** - SSE event stream

## ⚙️  Configuration

Defaults are overlaid by **~/.atelier/config.yaml** or the file named with
**--config**. Port range, scrollback size, and throttle tunables live there.`,
	RunE: runServe,
}

var (
	configPath string
	devMode    bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ~/.atelier/config.yaml)")
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (pretty logs, debug level)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Configure(logger.LevelFromEnv(devMode), devMode)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	devServers := services.NewDevServerManager(cfg)
	eventsHandler := handlers.NewEventsHandler(devServers)
	devServers.SetEventsHandler(eventsHandler)

	devServersHandler := handlers.NewDevServersHandler(devServers)
	logStreamHandler := handlers.NewLogStreamHandler(devServers, eventsHandler)

	app := fiber.New(fiber.Config{
		AppName:               "Atelier",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/v1")
	v1.Post("/devservers", devServersHandler.Start)
	v1.Get("/devservers", devServersHandler.List)
	v1.Delete("/devservers", devServersHandler.Stop)
	v1.Get("/devservers/logs", devServersHandler.GetLogs)
	v1.Get("/events", eventsHandler.HandleSSE)

	v1.Use("/devservers/logs/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/devservers/logs/ws", websocket.New(logStreamHandler.Handle))

	// Stop every dev server before the process goes away; orphaned npm
	// processes would otherwise hold their ports until the next reclaim.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Infof("received %s, shutting down", sig)
		devServers.StopAll()
		eventsHandler.Stop()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.APIPort)
	logger.Infof("atelier server listening on http://%s", addr)
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("atelier server stopped")
	return nil
}
