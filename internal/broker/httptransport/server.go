// Package httptransport exposes the broker's claim-once contract over HTTP,
// in the route-registration style of gofire/web.HttpRouteHandler, and
// provides a matching Client for the scheduler/worker side.
package httptransport

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"runinator/internal/broker"
)

// Server wraps a *broker.Broker with HTTP handlers for /publish, /lease,
// /ack/{id}, /nack/{id}.
type Server struct {
	b   *broker.Broker
	log *zap.Logger
}

func NewServer(b *broker.Broker, log *zap.Logger) *Server {
	return &Server{b: b, log: log}
}

// Routes registers the broker's control-plane endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/publish", s.handlePublish)
	mux.HandleFunc("/lease", s.handleLease)
	mux.HandleFunc("/ack/", s.handleAck)
	mux.HandleFunc("/nack/", s.handleNack)
}

type firingWire struct {
	ID             int64  `json:"id,omitempty"`
	TaskID         int64  `json:"task_id"`
	ScheduledFor   int64  `json:"scheduled_for"`
	Attempt        int    `json:"attempt"`
	Configuration  string `json:"configuration"` // base64
	ActionName     string `json:"action_name"`
	ActionFunction string `json:"action_function"`
	TimeoutMS      int64  `json:"timeout_ms"`
	LeaseToken     string `json:"lease_token,omitempty"`
}

func toWire(s *broker.Snapshot) firingWire {
	return firingWire{
		ID:             s.ID,
		TaskID:         s.TaskID,
		ScheduledFor:   s.ScheduledFor.Unix(),
		Attempt:        s.Attempt,
		Configuration:  base64.StdEncoding.EncodeToString(s.Configuration),
		ActionName:     s.ActionName,
		ActionFunction: s.ActionFunction,
		TimeoutMS:      s.TimeoutMS,
		LeaseToken:     s.LeaseToken,
	}
}

func (w firingWire) toFiring() (broker.Firing, error) {
	cfg, err := base64.StdEncoding.DecodeString(w.Configuration)
	if err != nil {
		return broker.Firing{}, err
	}
	return broker.Firing{
		TaskID:         w.TaskID,
		ScheduledFor:   time.Unix(w.ScheduledFor, 0).UTC(),
		Attempt:        w.Attempt,
		Configuration:  cfg,
		ActionName:     w.ActionName,
		ActionFunction: w.ActionFunction,
		TimeoutMS:      w.TimeoutMS,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var wire firingWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid firing payload: "+err.Error())
		return
	}
	f, err := wire.toFiring()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid configuration encoding: "+err.Error())
		return
	}
	id, err := s.b.Publish(f)
	if err != nil {
		s.log.Error("publish failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "publish failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	consumerID := r.URL.Query().Get("consumer_id")
	waitMS, _ := strconv.Atoi(r.URL.Query().Get("wait_ms"))
	if waitMS <= 0 {
		waitMS = 5000
	}

	snap, err := s.b.Lease(r.Context(), consumerID, time.Duration(waitMS)*time.Millisecond)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lease failed: "+err.Error())
		return
	}
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toWire(snap))
}

func idFromPath(path, prefix string) (int64, bool) {
	idStr := strings.TrimPrefix(path, prefix)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := idFromPath(r.URL.Path, "/ack/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid firing id")
		return
	}
	var body struct {
		LeaseToken string `json:"lease_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.b.Ack(id, body.LeaseToken); err != nil {
		writeError(w, http.StatusGone, "stale lease")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleNack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := idFromPath(r.URL.Path, "/nack/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid firing id")
		return
	}
	var body struct {
		LeaseToken string `json:"lease_token"`
		Requeue    bool   `json:"requeue"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.b.Nack(id, body.LeaseToken, body.Requeue, body.Reason); err != nil {
		writeError(w, http.StatusGone, "stale lease")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
