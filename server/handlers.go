package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/engine"
	"github.com/seafield/agentrelay/runner"
	"github.com/seafield/agentrelay/tool"
)

type messageRequest struct {
	Message     string            `json:"message"`
	ClientTools []tool.Definition `json:"client_tools,omitempty"`
}

type toolResultRequest struct {
	TurnID  string `json:"turn_id,omitempty"`
	CallID  string `json:"call_id"`
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	type agentInfo struct {
		ID          string   `json:"id"`
		Description string   `json:"description"`
		Tools       []string `json:"tools,omitempty"`
		Handoffs    []string `json:"handoffs,omitempty"`
	}
	infos := make([]agentInfo, 0)
	for _, id := range s.agents.IDs() {
		spec, err := s.agents.Resolve(id)
		if err != nil {
			continue
		}
		infos = append(infos, agentInfo{ID: spec.ID, Description: spec.Description, Tools: spec.Tools, Handoffs: spec.Handoffs})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": infos})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.tools.Definitions()})
}

// handleMessage starts a turn and streams its events as NDJSON, one
// JSON-encoded event per line in ascending sequence order. The connection
// closes after the terminal event. Client disconnection does not affect the
// turn; a reconnect can replay from the last acknowledged sequence number.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	turn, err := s.runner.StartTurn(r.Context(), conversationID, req.Message, func(o *runner.StartOptions) {
		o.ClientTools = req.ClientTools
	})
	if err != nil {
		if errors.Is(err, core.ErrTurnAlreadyActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("streaming turn",
		"turn_id", turn.ID(), "conversation_id", conversationID, "user", UserFromContext(r.Context()))
	s.streamEvents(w, r, turn, 0)
}

// handleToolResults submits one client call resolution for the conversation's
// active turn (or an explicitly named turn).
func (s *Server) handleToolResults(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]
	var req toolResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "call_id must not be empty")
		return
	}

	turnID := req.TurnID
	if turnID == "" {
		turn, ok := s.runner.ActiveTurn(conversationID)
		if !ok {
			writeError(w, http.StatusNotFound, "conversation has no active turn")
			return
		}
		turnID = turn.ID()
	}

	err := s.runner.ResolveClientCall(turnID, req.CallID, engine.ClientResult{Status: req.Status, Payload: req.Payload})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"turn_id": turnID, "call_id": req.CallID, "status": "accepted"})
	case errors.Is(err, core.ErrUnknownTurn), errors.Is(err, core.ErrUnknownCall):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrDuplicateResolution), errors.Is(err, core.ErrTurnAlreadyTerminal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// handleReplay re-streams a turn's events from a checkpoint, for subscribers
// that reconnected.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	turnID := mux.Vars(r)["turnID"]
	turn, err := s.runner.Turn(turnID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		after = parsed
	}
	s.streamEvents(w, r, turn, after)
}

func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	turnID := mux.Vars(r)["turnID"]
	err := s.runner.Cancel(turnID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"turn_id": turnID, "status": "cancelling"})
	case errors.Is(err, core.ErrUnknownTurn):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrTurnAlreadyTerminal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// streamEvents writes NDJSON until the subscription closes (terminal event
// delivered) or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, turn *engine.Turn, afterSeq uint64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	events, unsub := turn.Subscribe(afterSeq)
	defer unsub()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // nginx proxy compatibility
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
