package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/services"
)

// DevServersHandler exposes the dev-server registry over HTTP. Start and
// stop always answer with a {success, result|error} shape so the studio UI
// can render failures without special-casing status codes.
type DevServersHandler struct {
	manager *services.DevServerManager
}

// StartDevServerRequest is the body for starting a dev server.
// @Description Start request naming the project and worktree
type StartDevServerRequest struct {
	ProjectPath  string `json:"project_path" example:"/projects/app"`
	WorktreePath string `json:"worktree_path" example:"/projects/app/.worktrees/feature-x"`
}

// StopDevServerResult reports a released port after stop.
// @Description Stop confirmation with the released port (0 when nothing ran)
type StopDevServerResult struct {
	WorktreePath string `json:"worktree_path"`
	Port         int    `json:"port"`
}

func NewDevServersHandler(manager *services.DevServerManager) *DevServersHandler {
	return &DevServersHandler{manager: manager}
}

// Start launches a dev server inside a worktree.
// @Summary Start a worktree dev server
// @Description Allocates a port, spawns the worktree's dev command with PORT injected, and registers the server. Starting an already-running worktree returns the existing server.
// @Tags devservers
// @Accept json
// @Produce json
// @Param request body StartDevServerRequest true "Project and worktree paths"
// @Success 200 {object} models.DevServerInfo
// @Router /v1/devservers [post]
func (h *DevServersHandler) Start(c *fiber.Ctx) error {
	var req StartDevServerRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.WorktreePath == "" {
		return fail(c, fiber.StatusBadRequest, "worktree_path is required")
	}

	info, err := h.manager.Start(req.ProjectPath, req.WorktreePath)
	if err != nil {
		logger.Warnf("start dev server failed for %s: %v", req.WorktreePath, err)
		return fail(c, startErrorStatus(err), err.Error())
	}

	return ok(c, info)
}

// Stop terminates a worktree's dev server.
// @Summary Stop a worktree dev server
// @Description Stops the server and releases its port. Stopping a worktree with no running server is success.
// @Tags devservers
// @Produce json
// @Param worktree query string true "Worktree path"
// @Success 200 {object} StopDevServerResult
// @Router /v1/devservers [delete]
func (h *DevServersHandler) Stop(c *fiber.Ctx) error {
	worktree := c.Query("worktree")
	if worktree == "" {
		return fail(c, fiber.StatusBadRequest, "worktree query parameter is required")
	}

	port, err := h.manager.Stop(worktree)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}

	return ok(c, StopDevServerResult{WorktreePath: worktree, Port: port})
}

// List returns all running dev servers.
// @Summary List running dev servers
// @Tags devservers
// @Produce json
// @Success 200 {array} models.DevServerInfo
// @Router /v1/devservers [get]
func (h *DevServersHandler) List(c *fiber.Ctx) error {
	servers := h.manager.List()
	return c.JSON(fiber.Map{
		"servers": servers,
		"count":   len(servers),
	})
}

// GetLogs returns a server's scrollback history.
// @Summary Get dev server logs
// @Description Returns the bounded scrollback for replay to a newly attached viewer.
// @Tags devservers
// @Produce json
// @Param worktree query string true "Worktree path"
// @Success 200 {object} models.DevServerLogs
// @Router /v1/devservers/logs [get]
func (h *DevServersHandler) GetLogs(c *fiber.Ctx) error {
	worktree := c.Query("worktree")
	if worktree == "" {
		return fail(c, fiber.StatusBadRequest, "worktree query parameter is required")
	}

	logs, err := h.manager.GetLogs(worktree)
	if err != nil {
		return fail(c, fiber.StatusNotFound, err.Error())
	}

	return ok(c, logs)
}

func ok(c *fiber.Ctx, result any) error {
	return c.JSON(fiber.Map{
		"success": true,
		"result":  result,
	})
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrWorktreeNotFound),
		errors.Is(err, services.ErrManifestNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrNoPortsAvailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
