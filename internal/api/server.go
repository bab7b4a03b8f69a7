// Package api exposes the peer-facing HTTP endpoints of a control-plane
// node.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/Raywonder/voicelink-control/internal/services/executor"
	"github.com/Raywonder/voicelink-control/internal/services/rooms"
	"github.com/rs/zerolog"
)

// RoomAcceptor takes ownership of rooms transferred from another node.
type RoomAcceptor func(ctx context.Context, transferRooms []models.Room, sourceID string, preserveIDs bool) error

// Server is the peer-facing HTTP API.
type Server struct {
	logger      zerolog.Logger
	cfg         models.NodeConfig
	executorSvc executor.Service
	roomsSvc    rooms.Service
	accept      RoomAcceptor
	httpServer  *http.Server
}

// New creates a new API server. A nil acceptor accepts transfers by logging
// them; embedding applications wire the real room import.
func New(logger zerolog.Logger, cfg models.NodeConfig, executorSvc executor.Service, roomsSvc rooms.Service, accept RoomAcceptor) *Server {
	s := &Server{
		logger:      logger,
		cfg:         cfg,
		executorSvc: executorSvc,
		roomsSvc:    roomsSvc,
		accept:      accept,
	}
	if s.accept == nil {
		s.accept = func(_ context.Context, transferRooms []models.Room, sourceID string, preserveIDs bool) error {
			logger.Info().
				Int("rooms", len(transferRooms)).
				Str("source", sourceID).
				Bool("preserve_ids", preserveIDs).
				Msg("accepted transferred rooms")
			return nil
		}
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/device-id", s.handleDeviceID)
	mux.HandleFunc("POST /api/remote/command", s.auth(s.handleCommand))
	mux.HandleFunc("POST /api/rooms/transfer-accept", s.auth(s.handleTransferAccept))
	mux.HandleFunc("POST /api/rooms/federated-transfer", s.auth(s.handleFederatedTransfer))
	mux.HandleFunc("POST /api/rooms/{id}/pause", s.auth(s.handlePause))
	mux.HandleFunc("POST /api/rooms/{id}/resume", s.auth(s.handleResume))
	mux.HandleFunc("POST /api/broadcast", s.auth(s.handleBroadcast))

	return mux
}

// Start runs the listener until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Node.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.Node.ListenAddr).Msg("control API listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// auth checks the bearer token on state-changing routes.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Node.AccessToken
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDeviceID(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"deviceId": s.cfg.Node.ID})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req models.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.ConnectionMethod = "direct"

	result := s.executorSvc.Handle(r.Context(), req)
	writeJSON(w, result)
}

func (s *Server) handleTransferAccept(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := s.accept(r.Context(), req.Rooms, req.SourceDeviceID, false); err != nil {
		s.logger.Error().Err(err).Msg("transfer accept failed")
		writeJSON(w, models.TransferResponse{Success: false})
		return
	}
	writeJSON(w, models.TransferResponse{Success: true})
}

func (s *Server) handleFederatedTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.FederatedTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := s.accept(r.Context(), req.Rooms, req.SourceServer, req.PreserveRoomIDs); err != nil {
		s.logger.Error().Err(err).Msg("federated transfer failed")
		writeJSON(w, models.TransferResponse{Success: false})
		return
	}
	writeJSON(w, models.TransferResponse{Success: true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req models.PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := s.roomsSvc.Pause(r.Context(), r.PathValue("id"), req); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.roomsSvc.Resume(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var msg models.BroadcastMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	// Fire-and-forget on the caller's side; forward to the room server.
	s.roomsSvc.Broadcast(r.Context(), msg)
	writeJSON(w, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
