package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"skillchain/core/events"
)

const wsWriteTimeout = 10 * time.Second

// handleEscrowWS streams ledger events over a websocket. The optional cursor
// query parameter resumes the stream after a previously observed sequence
// number; retained backlog events are replayed before live delivery begins.
func (s *Server) handleEscrowWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEscrowEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEscrowEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	updates, cancel, backlog := s.hub.Subscribe(cursor)
	defer cancel()

	for _, stamped := range backlog {
		if err := writeStampedEvent(ctx, conn, stamped); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case stamped, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStampedEvent(ctx, conn, stamped); err != nil {
				return err
			}
		}
	}
}

func writeStampedEvent(ctx context.Context, conn *websocket.Conn, stamped events.Stamped) error {
	data, err := json.Marshal(stamped)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseCursor(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseUint(trimmed, 10, 64)
}
