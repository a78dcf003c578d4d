package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/services"
)

// EventType identifies an event on the studio stream. The names match the
// frontend's TypeScript definitions.
type EventType string

const (
	DevServerStartedEvent EventType = "devserver:started"
	DevServerOutputEvent  EventType = "devserver:output"
	DevServerStoppedEvent EventType = "devserver:stopped"
	HeartbeatEvent        EventType = "heartbeat"
)

type AppEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type DevServerStartedPayload struct {
	WorktreePath string `json:"worktree_path"`
	Port         int    `json:"port"`
	URL          string `json:"url"`
	Timestamp    int64  `json:"timestamp"`
}

type DevServerOutputPayload struct {
	WorktreePath string `json:"worktree_path"`
	Content      string `json:"content"`
	Timestamp    int64  `json:"timestamp"`
}

type DevServerStoppedPayload struct {
	WorktreePath string `json:"worktree_path"`
	Port         int    `json:"port"`
	ExitCode     int    `json:"exit_code"`
	Error        string `json:"error,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
	Uptime    int64 `json:"uptime"`
}

type SSEMessage struct {
	Event     AppEvent `json:"event"`
	Timestamp int64    `json:"timestamp"`
	ID        string   `json:"id"`
}

// EventsHandler is the studio's event hub: it implements the orchestrator's
// emitter interface and fans events out to SSE clients and internal
// subscribers (the WebSocket log streams).
type EventsHandler struct {
	devServers *services.DevServerManager

	clients            map[string]chan SSEMessage
	clientConnectTimes map[string]time.Time
	clientsMux         sync.RWMutex

	startTime time.Time
	stopOnce  sync.Once
	stopChan  chan struct{}
}

func NewEventsHandler(devServers *services.DevServerManager) *EventsHandler {
	return &EventsHandler{
		devServers:         devServers,
		clients:            make(map[string]chan SSEMessage),
		clientConnectTimes: make(map[string]time.Time),
		startTime:          time.Now(),
		stopChan:           make(chan struct{}),
	}
}

// HandleSSE streams dev-server lifecycle and output events to the browser.
// @Summary Server-Sent Events endpoint for real-time studio events
// @Description Streams devserver:started, devserver:output, devserver:stopped and heartbeat events as SSE.
// @Tags events
// @Accept text/event-stream
// @Produce text/event-stream
// @Success 200 {object} SSEMessage "SSE stream of events"
// @Router /v1/events [get]
func (h *EventsHandler) HandleSSE(c *fiber.Ctx) error {
	if ah := c.Get("Accept"); ah != "" && !strings.Contains(ah, "text/event-stream") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "This endpoint only accepts Server-Sent Events (text/event-stream)",
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // disable nginx buffering

	clientID, ch := h.Subscribe()
	logger.Infof("SSE client connected: %s from %s", clientID, c.IP())

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.Unsubscribe(clientID)

		send := func(msg SSEMessage) bool {
			if msg.Event.Type == "" {
				return true
			}
			b, _ := json.Marshal(msg)
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		// Initial state: heartbeat plus one started event per running
		// server, so a late-attaching UI sees the current world.
		if !send(h.makeHeartbeat()) {
			return
		}
		for _, info := range h.devServers.List() {
			msg := h.makeMessage(DevServerStartedEvent, DevServerStartedPayload{
				WorktreePath: info.WorktreePath,
				Port:         info.Port,
				URL:          info.URL,
				Timestamp:    info.StartedAt.UnixMilli(),
			})
			if !send(msg) {
				return
			}
		}

		tick := time.NewTicker(30 * time.Second)
		defer tick.Stop()

		for {
			select {
			case msg, ok := <-ch:
				if !ok || !send(msg) {
					return
				}
			case <-tick.C:
				if !send(h.makeHeartbeat()) {
					return
				}
			case <-h.stopChan:
				return
			}
		}
	}))

	return nil
}

// Subscribe registers an internal consumer of the event stream and returns
// its id and channel. Used by SSE connections and WebSocket log streams.
func (h *EventsHandler) Subscribe() (string, chan SSEMessage) {
	id := uuid.New().String()
	ch := make(chan SSEMessage, 100)

	h.clientsMux.Lock()
	h.clients[id] = ch
	h.clientConnectTimes[id] = time.Now()
	h.clientsMux.Unlock()

	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *EventsHandler) Unsubscribe(id string) {
	h.clientsMux.Lock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
	delete(h.clientConnectTimes, id)
	h.clientsMux.Unlock()
}

func (h *EventsHandler) makeMessage(eventType EventType, payload any) SSEMessage {
	return SSEMessage{
		Event:     AppEvent{Type: eventType, Payload: payload},
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.New().String(),
	}
}

func (h *EventsHandler) makeHeartbeat() SSEMessage {
	return h.makeMessage(HeartbeatEvent, HeartbeatPayload{
		Timestamp: time.Now().UnixMilli(),
		Uptime:    time.Since(h.startTime).Milliseconds(),
	})
}

func (h *EventsHandler) broadcastEvent(event AppEvent) {
	message := SSEMessage{
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.New().String(),
	}

	h.clientsMux.RLock()
	var clientsToRemove []string
	for clientID, clientChan := range h.clients {
		select {
		case clientChan <- message:
		default:
			// Full channel means a slow or dead consumer. Fresh connections
			// get a short grace window before being evicted.
			connectTime, exists := h.clientConnectTimes[clientID]
			if exists && time.Since(connectTime) < 2*time.Second {
				logger.Debugf("event client %s in grace period, not removing", clientID)
			} else {
				clientsToRemove = append(clientsToRemove, clientID)
			}
		}
	}
	h.clientsMux.RUnlock()

	for _, clientID := range clientsToRemove {
		logger.Debugf("evicting slow event client %s", clientID)
		h.Unsubscribe(clientID)
	}
}

// EmitDevServerStarted broadcasts a dev server start to all clients.
func (h *EventsHandler) EmitDevServerStarted(worktreePath string, port int, url string) {
	h.broadcastEvent(AppEvent{
		Type: DevServerStartedEvent,
		Payload: DevServerStartedPayload{
			WorktreePath: worktreePath,
			Port:         port,
			URL:          url,
			Timestamp:    time.Now().UnixMilli(),
		},
	})
}

// EmitDevServerOutput broadcasts one throttled output batch.
func (h *EventsHandler) EmitDevServerOutput(worktreePath string, content string) {
	h.broadcastEvent(AppEvent{
		Type: DevServerOutputEvent,
		Payload: DevServerOutputPayload{
			WorktreePath: worktreePath,
			Content:      content,
			Timestamp:    time.Now().UnixMilli(),
		},
	})
}

// EmitDevServerStopped broadcasts a dev server exit with its exit code or
// error message.
func (h *EventsHandler) EmitDevServerStopped(worktreePath string, port int, exitCode int, errMsg string) {
	h.broadcastEvent(AppEvent{
		Type: DevServerStoppedEvent,
		Payload: DevServerStoppedPayload{
			WorktreePath: worktreePath,
			Port:         port,
			ExitCode:     exitCode,
			Error:        errMsg,
			Timestamp:    time.Now().UnixMilli(),
		},
	})
}

// Stop shuts the hub down and disconnects every client.
func (h *EventsHandler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})

	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	for _, ch := range h.clients {
		close(ch)
	}
	h.clients = make(map[string]chan SSEMessage)
	h.clientConnectTimes = make(map[string]time.Time)
}
