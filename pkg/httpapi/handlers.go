package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/storeforge/storeforge/internal/history"
	"github.com/storeforge/storeforge/pkg/provision"
)

// maxBodyBytes bounds request bodies; the protocol only carries small JSON
// documents.
const maxBodyBytes = 16 * 1024

// handleProvision starts a provisioning attempt for the target in the path.
// The response status mirrors the first stable state the session reaches.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["targetId"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable_body"})
		return
	}

	var req provisionRequest
	if len(body) > 0 {
		if err := validateBody(compiledSchemas.provision, body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
	}

	if req.Client != nil {
		s.logger.Debug().
			Str("target_id", targetID).
			Str("client", req.Client.Name).
			Str("client_version", req.Client.Version).
			Msg("Provision requested")
	}

	session, err := s.orch.Provision(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, provision.ErrConflict) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeSession(w, session)
}

// handleChallengeAck resumes a session after the caller solved the visual
// challenge.
func (s *Server) handleChallengeAck(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	session, err := s.orch.AckChallenge(r.Context(), sessionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeSession(w, session)
}

// handleCode submits a one-time code. A rejected code answers 400 with a
// retryable flag and the remaining attempt budget.
func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable_body"})
		return
	}
	if err := validateBody(compiledSchemas.code, body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var req codeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	session, err := s.orch.SubmitCode(r.Context(), sessionID, req.Code)
	if err != nil {
		maxAttempts := s.orch.Config().MaxCodeAttempts

		switch {
		case errors.Is(err, provision.ErrMaxRetriesExceeded):
			writeJSON(w, http.StatusBadRequest, codeRejectedResponse{
				Error:             "max_retries_exceeded",
				Retryable:         false,
				Attempts:          session.CodeAttempts,
				AttemptsRemaining: 0,
			})
		case errors.Is(err, provision.ErrInvalidCode):
			remaining := maxAttempts - session.CodeAttempts
			if remaining < 0 {
				remaining = 0
			}
			writeJSON(w, http.StatusBadRequest, codeRejectedResponse{
				Error:             "invalid_code",
				Retryable:         true,
				Attempts:          session.CodeAttempts,
				AttemptsRemaining: remaining,
			})
		default:
			writeOrchestratorError(w, err)
		}
		return
	}

	writeSession(w, session)
}

// handleCancel cancels a session. Always answers 200; cancelling an unknown
// or finished session is a no-op.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	if err := s.orch.Cancel(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, cancelResponse{SessionID: sessionID, Status: "cancelled"})
}

// handleGetSession returns a full session snapshot for polling callers.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	session, err := s.orch.Get(sessionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// handleHistory lists recently finished attempts from the archive.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string][]history.Attempt{"attempts": {}})
		return
	}

	attempts, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string][]history.Attempt{"attempts": attempts})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.startTime).Seconds(),
		Sessions:  s.orch.ActiveSessions(),
		Timestamp: time.Now().UnixMilli(),
	})
}

// writeSession maps a session snapshot to the protocol's status codes:
// 200 succeeded, 202 awaiting code, 203 awaiting challenge, 502 failed.
// Transitional and cancelled states answer 200 with the snapshot.
func writeSession(w http.ResponseWriter, session provision.Session) {
	payload := sessionResponse{
		SessionID: session.ID,
		State:     session.State,
		Result:    session.Result,
		Failure:   session.Failure,
	}
	if session.Challenge != nil {
		payload.ChallengeRef = session.Challenge.Ref
		payload.ChallengeURL = session.Challenge.URL
	}

	status := http.StatusOK
	switch session.State {
	case provision.StateAwaitingChallenge:
		status = http.StatusNonAuthoritativeInfo
	case provision.StateAwaitingCode:
		status = http.StatusAccepted
	case provision.StateFailed:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, payload)
}

// writeOrchestratorError maps orchestrator sentinel errors to status codes.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provision.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
	case errors.Is(err, provision.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "operation not valid in current state"})
	case errors.Is(err, provision.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
