package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"Incinerator/internal/asset"
	"Incinerator/internal/logger"
	"Incinerator/internal/signer"
)

const (
	// writeWait is the time allowed to write one message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = 54 * time.Second

	// maxMessageSize bounds messages read from the peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handlePendingSignatures handles GET /signing.
func (s *Server) handlePendingSignatures(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusNotFound, "wallet signing is not enabled")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending": s.relay.Pending(),
	})
}

// handleResolveSignature handles POST /signing/{id}.
func (s *Server) handleResolveSignature(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusNotFound, "wallet signing is not enabled")
		return
	}

	signerAddr, sig, err := decodeSignature(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.relay.Resolve(r.PathValue("id"), signerAddr, sig); err != nil {
		writeRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRejectSignature handles DELETE /signing/{id}.
func (s *Server) handleRejectSignature(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusNotFound, "wallet signing is not enabled")
		return
	}

	if err := s.relay.Reject(r.PathValue("id")); err != nil {
		writeRelayError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeRelayError maps relay errors to HTTP statuses.
func writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, signer.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, asset.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleSigningStream handles GET /ws/signing. The stream first replays
// pending requests, then pushes each new one as a JSON text message.
func (s *Server) handleSigningStream(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusNotFound, "wallet signing is not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("signing stream upgrade", "error", err)
		return
	}

	events, unsubscribe := s.relay.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go readPump(conn, closed)

	writePump(s, conn, s.relay.Pending(), events, closed)
}

// readPump discards peer messages and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("signing stream closed", "error", err)
			}
			return
		}
	}
}

// writePump sends backlog then streams events until the peer, the
// subscription or the server goes away.
func writePump(s *Server, conn *websocket.Conn, backlog []signer.Request, events <-chan signer.Request, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for _, req := range backlog {
		if err := writeEvent(conn, req); err != nil {
			return
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
			return

		case <-closed:
			return

		case req, ok := <-events:
			if !ok {
				return
			}

			if err := writeEvent(conn, req); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeEvent writes one signing request.
func writeEvent(conn *websocket.Conn, req signer.Request) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteJSON(req)
}
