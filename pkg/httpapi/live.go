package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/storeforge/storeforge/pkg/provision"
)

const defaultLiveFrameInterval = time.Second

// handleLive streams challenge screenshots over a websocket so a human can
// watch and solve the visual challenge. The stream ends when the session
// leaves StateAwaitingChallenge or the client disconnects.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	// Reject before upgrading so plain HTTP clients get a proper status.
	session, err := s.orch.Get(sessionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	if session.State != provision.StateAwaitingChallenge {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no challenge in progress"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.logger.Info().Str("session_id", sessionID).Msg("Live challenge view opened")

	// Drain client frames so close messages are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.opts.LiveFrameInterval
	if interval <= 0 {
		interval = defaultLiveFrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, err := s.orch.ChallengeScreenshot(r.Context(), sessionID)
		if err != nil {
			// The challenge was resolved, the session ended, or the agent
			// cannot produce screenshots. Tell the client and stop.
			reason := "challenge no longer in progress"
			if errors.Is(err, provision.ErrNoLiveView) {
				reason = "live view not supported"
			}
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				deadline,
			)
			return
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}
