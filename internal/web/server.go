// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package web serves the status page, a JSON snapshot, a websocket stream
// of snapshots and an intent endpoint.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/status"
)

// maxIntentBody bounds POST /intent request bodies
const maxIntentBody = 4096

// TokenEnv is the environment variable holding the intent bearer token
const TokenEnv = "HELIOGUARD_INTENT_TOKEN"

// Poster accepts events for the engine loop
type Poster interface {
	Post(engine.Event) bool
}

// IntentRequest is the POST /intent body
type IntentRequest struct {
	Command string `json:"command"`
}

// IntentResponse is the POST /intent reply
type IntentResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Server serves status over HTTP
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	poster     Poster
	token      []byte
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// New creates a Server that reads state from tracker and posts intents to
// poster. Intents must carry token as a bearer credential. A nil poster or
// an empty token makes the server read-only.
func New(addr string, tracker *status.Tracker, poster Poster, token string, log zerolog.Logger) *Server {
	if token == "" {
		poster = nil
	}
	s := &Server{
		tracker: tracker,
		poster:  poster,
		token:   []byte(token),
		log:     log.With().Str("component", "web").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/intent", s.handleIntent)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.tracker.Snapshot()); err != nil {
		s.log.Warn().Err(err).Msg("could not render index")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeIntent(w, http.StatusMethodNotAllowed, IntentResponse{Error: "POST only"})
		return
	}
	if s.poster == nil {
		writeIntent(w, http.StatusServiceUnavailable, IntentResponse{Error: "intents disabled"})
		return
	}
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="helioguard"`)
		writeIntent(w, http.StatusUnauthorized, IntentResponse{Error: "unauthorized"})
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("intent rejected: bad token")
		return
	}

	command, err := readCommand(r)
	if err != nil {
		writeIntent(w, http.StatusBadRequest, IntentResponse{Error: err.Error()})
		return
	}

	ev, err := engine.ParseIntent(command)
	if err != nil {
		writeIntent(w, http.StatusBadRequest, IntentResponse{Error: err.Error()})
		return
	}

	if !s.poster.Post(ev) {
		writeIntent(w, http.StatusServiceUnavailable, IntentResponse{Error: "engine stopped"})
		return
	}

	s.log.Info().Str("command", command).Str("remote", r.RemoteAddr).Msg("intent accepted")
	writeIntent(w, http.StatusAccepted, IntentResponse{Accepted: true})
}

// authorized checks the bearer token. Browsers cannot set headers on a
// websocket handshake, so a ?token= query parameter is also accepted.
func (s *Server) authorized(r *http.Request) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		got = r.URL.Query().Get("token")
	}
	if got == "" || len(s.token) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), s.token) == 1
}

// readCommand accepts either a JSON IntentRequest or a plain text line
func readCommand(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIntentBody))
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req IntentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", err
		}
		return req.Command, nil
	}
	return string(body), nil
}

func writeIntent(w http.ResponseWriter, code int, resp IntentResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func encodeReply(resp IntentResponse) []byte {
	data, _ := json.Marshal(resp)
	return data
}
