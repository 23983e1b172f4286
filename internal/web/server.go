// Package web exposes the chat relay over HTTP: a WebSocket endpoint for
// live generation and two read-only JSON endpoints that project the
// conversation history.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/chatrelay/internal/consts"
	"github.com/codefionn/chatrelay/internal/history"
	"github.com/codefionn/chatrelay/internal/llm"
	"github.com/codefionn/chatrelay/internal/logger"
	"github.com/codefionn/chatrelay/internal/relay"
)

// HistoryBackend is everything the HTTP layer needs from the store.
type HistoryBackend interface {
	relay.History
	Sessions(ctx context.Context, user string) ([]history.SessionMeta, error)
}

// Server owns the HTTP listener, the session registry and the pipeline.
type Server struct {
	addr       string
	httpServer *http.Server
	registry   *relay.Registry
	pipeline   *relay.Pipeline
	store      HistoryBackend
	log        *logger.Logger
}

// NewServer wires the relay parts together behind an address.
func NewServer(addr string, client llm.Client, store HistoryBackend, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	return &Server{
		addr:     addr,
		registry: relay.NewRegistry(log),
		pipeline: relay.NewPipeline(client, store, log),
		store:    store,
		log:      log.WithPrefix("web"),
	}
}

// Handler builds the route table. Exposed so tests can mount it on an
// httptest server.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/api/chat", s.handleChat)
	router.GET("/history_sessions", s.handleSessions)
	router.GET("/history/:session_id", s.handleHistory)
	return router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: consts.Timeout5Seconds,
	}

	go func() {
		s.log.Info("Listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the listener down, waiting briefly for in-flight requests.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// handleChat upgrades the connection and binds it to a fresh session.
// Session ids are always assigned server side; a client cannot choose or
// resume one. The session is seeded before the id is announced so a
// history read right after connect already shows the system message.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user := r.URL.Query().Get("uuid")
	if user == "" {
		http.Error(w, "uuid is required", http.StatusBadRequest)
		return
	}

	sessionID := uuid.NewString()

	if err := s.store.EnsureSeeded(r.Context(), user, sessionID); err != nil {
		s.log.Error("Failed to seed session %s: %v", sessionID, err)
		http.Error(w, "failed to prepare session", http.StatusInternalServerError)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := NewClient(user, sessionID, conn, s.registry, s.pipeline, s.log)
	if err := s.registry.RegisterConn(sessionID, client); err != nil {
		s.log.Warn("Rejecting connection: %v", err)
		data, _ := json.Marshal(relay.WireMessage{
			Type:      relay.TypeError,
			SessionID: sessionID,
			Content:   "session already connected",
		})
		_ = conn.WriteMessage(websocket.TextMessage, data)
		conn.Close()
		return
	}

	client.Send(relay.WireMessage{Type: relay.TypeSessionID, SessionID: sessionID})

	go client.WritePump()
	go client.ReadPump()
}

// handleSessions lists the user's sessions, newest first.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user := r.URL.Query().Get("uuid")
	if user == "" {
		http.Error(w, "uuid is required", http.StatusBadRequest)
		return
	}

	sessions, err := s.store.Sessions(r.Context(), user)
	if err != nil {
		s.log.Error("Failed to list sessions for %s: %v", user, err)
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, sessions)
}

type historyResponse struct {
	SessionID string                `json:"session_id"`
	History   []history.ChatMessage `json:"history"`
}

// handleHistory replays one session's full message log.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	user := r.URL.Query().Get("uuid")
	if user == "" {
		http.Error(w, "uuid is required", http.StatusBadRequest)
		return
	}
	sessionID := params.ByName("session_id")

	messages, err := s.store.Messages(r.Context(), user, sessionID)
	if err != nil {
		s.log.Error("Failed to load history for %s: %v", sessionID, err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, historyResponse{SessionID: sessionID, History: messages})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
