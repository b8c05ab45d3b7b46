// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/status"
)

const (
	wsWriteWait   = 5 * time.Second
	wsSubscribeQ  = 8
	wsReplyBuffer = 4
)

// handleWebSocket streams a status document after every engine state
// change. Text messages from the client are parsed as intents when the
// handshake carried the intent token. The payload
// format is chosen with ?format=json|cbor; CBOR goes out as binary frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = status.FormatJSONName
	}
	if !status.ValidFormat(format) {
		http.Error(w, "unknown format", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Str("format", format).Msg("websocket client connected")

	snaps, cancel := s.tracker.Subscribe(wsSubscribeQ)
	defer cancel()

	replies := make(chan []byte, wsReplyBuffer)
	done := make(chan struct{})
	go s.readIntents(conn, s.authorized(r), replies, done)

	msgType := websocket.TextMessage
	if format == status.FormatCBORName {
		msgType = websocket.BinaryMessage
	}

	send := func(snap status.Snapshot) bool {
		data, err := status.FormatStatus(format, snap)
		if err != nil {
			log.Error().Err(err).Msg("could not encode status")
			return false
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(msgType, data); err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			return false
		}
		return true
	}

	if !send(s.tracker.Snapshot()) {
		return
	}

	for {
		select {
		case <-done:
			log.Debug().Msg("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-snaps:
			if !ok || !send(snap) {
				return
			}
		case reply := <-replies:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}
}

// readIntents owns the read side of conn until it fails
func (s *Server) readIntents(conn *websocket.Conn, authorized bool, replies chan<- []byte, done chan<- struct{}) {
	defer close(done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		resp := IntentResponse{Accepted: true}
		ev, err := engine.ParseIntent(string(data))
		switch {
		case err != nil:
			resp = IntentResponse{Error: err.Error()}
		case s.poster == nil:
			resp = IntentResponse{Error: "intents disabled"}
		case !authorized:
			resp = IntentResponse{Error: "unauthorized"}
		case !s.poster.Post(ev):
			resp = IntentResponse{Error: "engine stopped"}
		}

		select {
		case replies <- encodeReply(resp):
		default:
		}
	}
}
