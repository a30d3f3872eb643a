package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/fieldscan/internal/pipeline"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		return true
	},
}

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// WebSocketMessage is sent to clients. Type is snapshot, ack or error.
type WebSocketMessage struct {
	Type     string         `json:"type"`
	Action   string         `json:"action,omitempty"`
	Snapshot *scan.Snapshot `json:"snapshot,omitempty"`
	State    *scan.State    `json:"state,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// WebSocketRequest is a control message from a client: start, stop or reset.
type WebSocketRequest struct {
	Type string `json:"type"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// lockedWriter serializes writes from the stream and the control replies.
type lockedWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedWriter) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return l.conn.WriteMessage(messageType, data)
}

func (l *lockedWriter) ping() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// sessionWebSocketHandler streams session snapshots and accepts control
// messages.
func (s *Server) sessionWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	p := s.requirePipeline(w)
	if p == nil {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn, p)
}

// handleWebSocketConnection runs the snapshot stream until the client goes
// away.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn, p *pipeline.Pipeline) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &lockedWriter{conn: conn}
	updates, unsubscribe := p.Runner.Subscribe()
	defer unsubscribe()

	snap := p.Runner.Snapshot()
	s.sendSnapshot(out, snap)

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := out.ping(); err != nil {
					cancel()
					return
				}
			case snap, ok := <-updates:
				if !ok {
					cancel()
					return
				}
				s.sendSnapshot(out, snap)
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for ctx.Err() == nil {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, out, p.Runner, data)
		}
	}
}

// sessionControl is the part of the runner a client may drive.
type sessionControl interface {
	Start(ctx context.Context) error
	Stop() error
	Reset()
	State() scan.State
}

// handleWebSocketMessage applies one control message.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, runner sessionControl, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, req.Type, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	var err error
	switch req.Type {
	case "start":
		err = runner.Start(ctx)
	case "stop":
		err = runner.Stop()
	case "reset":
		runner.Reset()
	default:
		s.sendWebSocketError(conn, req.Type, "Unsupported request type: "+req.Type)
		return
	}
	if err != nil {
		sessionControlTotal.WithLabelValues(req.Type, "error").Inc()
		s.sendWebSocketError(conn, req.Type, err.Error())
		return
	}
	sessionControlTotal.WithLabelValues(req.Type, "success").Inc()
	state := runner.State()
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "ack", Action: req.Type, State: &state})
}

func (s *Server) sendSnapshot(conn WebSocketConnWriter, snap scan.Snapshot) {
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "snapshot", Snapshot: &snap})
}

// sendWebSocketMessage sends a message over WebSocket.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, action, message string) {
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "error", Action: action, Error: message})
}
