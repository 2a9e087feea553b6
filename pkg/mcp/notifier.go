package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowlab/internal/streaming"
)

// notificationMethod carries trace events to clients.
const notificationMethod = "notifications/message"

// MCPNotifier pushes live trace events to the MCP client that owns the
// session they belong to.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	logger    *slog.Logger
}

// NewMCPNotifier creates a notifier that pushes via MCP notifications.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, logger *slog.Logger) *MCPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions, logger: logger}
}

// Notify sends one event to the client following its session.
// Best-effort: returns nil if nobody follows the session.
func (n *MCPNotifier) Notify(_ context.Context, ev streaming.StreamEvent) error {
	clientID, ok := n.sessions.ClientFor(ev.SessionID)
	if !ok {
		return nil
	}
	payload := map[string]any{
		"session_id": ev.SessionID,
		"event_type": ev.EventType,
	}
	if ev.NodeID != "" {
		payload["node_id"] = ev.NodeID
	}
	if ev.TestcaseID != "" {
		payload["testcase_id"] = ev.TestcaseID
	}
	if ev.Payload != nil {
		payload["payload"] = ev.Payload
	}
	err := n.mcpServer.SendNotificationToSpecificClient(clientID, notificationMethod, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Client went away between lookup and send.
		n.sessions.Remove(clientID)
		return nil
	}
	return err
}

// Forward subscribes to hub and notifies clients until ctx is cancelled.
func (n *MCPNotifier) Forward(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := n.Notify(ctx, ev); err != nil {
				n.logger.Debug("notification not delivered",
					slog.String("session_id", ev.SessionID), slog.String("error", err.Error()))
			}
		}
	}
}
