package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/services"
)

// LogStreamHandler attaches a WebSocket viewer to one worktree's dev server
// output: the current scrollback is replayed first, then live output batches
// follow as they flush, so the viewer never misses history or order.
type LogStreamHandler struct {
	manager *services.DevServerManager
	events  *EventsHandler
}

// LogStreamMessage frames what goes down the socket. "history" carries the
// scrollback replay, "output" live batches, "stopped" the final exit notice.
type LogStreamMessage struct {
	Type         string `json:"type"`
	WorktreePath string `json:"worktree_path"`
	Content      string `json:"content,omitempty"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	Error        string `json:"error,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

func NewLogStreamHandler(manager *services.DevServerManager, events *EventsHandler) *LogStreamHandler {
	return &LogStreamHandler{manager: manager, events: events}
}

// Handle serves one log-stream connection. The worktree is selected with
// the ?worktree= query parameter at upgrade time.
func (h *LogStreamHandler) Handle(c *websocket.Conn) {
	worktree := c.Query("worktree")
	defer c.Close()

	if worktree == "" {
		_ = c.WriteJSON(LogStreamMessage{
			Type:      "error",
			Error:     "worktree query parameter is required",
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}

	logs, err := h.manager.GetLogs(worktree)
	if err != nil {
		_ = c.WriteJSON(LogStreamMessage{
			Type:         "error",
			WorktreePath: worktree,
			Error:        err.Error(),
			Timestamp:    time.Now().UnixMilli(),
		})
		return
	}

	// Subscribe before replaying history. Batches emitted during the replay
	// queue up in the channel, so nothing is lost in between.
	clientID, ch := h.events.Subscribe()
	defer h.events.Unsubscribe(clientID)

	if err := c.WriteJSON(LogStreamMessage{
		Type:         "history",
		WorktreePath: worktree,
		Content:      logs.Logs,
		Timestamp:    time.Now().UnixMilli(),
	}); err != nil {
		return
	}

	logger.Debugf("log stream attached for %s", worktree)

	// Reader goroutine: we never expect client messages, but reading is how
	// we notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			out, final := h.translate(worktree, msg)
			if out == nil {
				continue
			}
			if err := c.WriteJSON(out); err != nil {
				return
			}
			if final {
				return
			}
		}
	}
}

// translate filters hub messages down to this worktree's output and stop
// events. The second return marks the stream as finished.
func (h *LogStreamHandler) translate(worktree string, msg SSEMessage) (*LogStreamMessage, bool) {
	switch payload := msg.Event.Payload.(type) {
	case DevServerOutputPayload:
		if payload.WorktreePath != worktree {
			return nil, false
		}
		return &LogStreamMessage{
			Type:         "output",
			WorktreePath: worktree,
			Content:      payload.Content,
			Timestamp:    payload.Timestamp,
		}, false
	case DevServerStoppedPayload:
		if payload.WorktreePath != worktree {
			return nil, false
		}
		exitCode := payload.ExitCode
		return &LogStreamMessage{
			Type:         "stopped",
			WorktreePath: worktree,
			ExitCode:     &exitCode,
			Error:        payload.Error,
			Timestamp:    payload.Timestamp,
		}, true
	default:
		return nil, false
	}
}
