package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/events"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
)

// WorkflowEventsHandler handles real-time workflow event subscriptions.
type WorkflowEventsHandler struct {
	bus *events.Bus
}

// NewWorkflowEventsHandler creates a new WorkflowEventsHandler.
func NewWorkflowEventsHandler(bus *events.Bus) *WorkflowEventsHandler {
	return &WorkflowEventsHandler{bus: bus}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

func subscriptionKey(c *gin.Context) string {
	if workflowID := c.Query("workflow_id"); workflowID != "" {
		return workflowID
	}
	return "*"
}

// WebSocketHandler handles WebSocket connections for workflow events.
func (h *WorkflowEventsHandler) WebSocketHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader.Upgrade automatically sends an error response, so just return
		return
	}
	defer conn.Close()

	eventChan, cancel := h.bus.Subscribe(subscriptionKey(c))
	defer cancel()

	// Goroutine to read messages from the client (e.g., for ping/pong)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Logger.Debug().Err(err).Msg("WebSocket write failed, closing")
				return
			}
		}
	}
}

// SSEHandler handles Server-Sent Events connections for workflow events.
func (h *WorkflowEventsHandler) SSEHandler(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	eventChan, cancel := h.bus.Subscribe(subscriptionKey(c))
	defer cancel()

	clientClosed := c.Request.Context().Done()

	for {
		select {
		case <-clientClosed:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			eventJSON, err := json.Marshal(event)
			if err != nil {
				continue // Skip events that can't be marshaled
			}
			c.SSEvent("message", string(eventJSON))
			c.Writer.Flush()
		}
	}
}
