package models

import "time"

// DevServerInfo describes a running per-worktree development server.
// @Description Running development server details
type DevServerInfo struct {
	WorktreePath string    `json:"worktree_path" example:"/projects/app/.worktrees/feature-x"`
	Port         int       `json:"port" example:"3001"`
	URL          string    `json:"url" example:"http://localhost:3001"`
	PID          int       `json:"pid,omitempty" example:"48213"`
	StartedAt    time.Time `json:"started_at" example:"2024-01-15T14:30:00Z"`
}

// DevServerLogs carries a server's replayable output history.
// @Description Scrollback history for a development server
type DevServerLogs struct {
	WorktreePath string    `json:"worktree_path"`
	Port         int       `json:"port"`
	URL          string    `json:"url"`
	Logs         string    `json:"logs"`
	StartedAt    time.Time `json:"started_at"`
}
