// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/helioguard/internal/engine"
)

const (
	linkReadBufferSize = 128
	linkWriteQueueSize = 16
	initialBackoff     = 1 * time.Second
	maxBackoff         = 30 * time.Second
)

// linkManager owns the connection. It feeds received bytes and link state
// changes to the engine and writes the engine's command frames. It
// implements engine.Sink; only Outbound is used.
type linkManager struct {
	engine.NopSink

	conn     Connection
	connInfo string
	mu       sync.RWMutex

	open     func() (Connection, string, error)
	post     func(engine.Event) bool
	outbound chan []byte
	log      zerolog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newLinkManager(conn Connection, connInfo string, open func() (Connection, string, error), log zerolog.Logger) *linkManager {
	return &linkManager{
		conn:           conn,
		connInfo:       connInfo,
		open:           open,
		outbound:       make(chan []byte, linkWriteQueueSize),
		log:            log.With().Str("component", "link").Logger(),
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

func (lm *linkManager) getConn() (Connection, string) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.conn, lm.connInfo
}

func (lm *linkManager) setConn(conn Connection, connInfo string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.conn = conn
	lm.connInfo = connInfo
}

// Outbound queues a command frame for the writer. Frames are dropped when
// the queue is full; the next command supersedes them anyway.
func (lm *linkManager) Outbound(f []byte) {
	select {
	case lm.outbound <- bytes.Clone(f):
	default:
		lm.log.Warn().Msg("write queue full, dropping command frame")
	}
}

// Run reads until ctx is done, reconnecting with exponential backoff when
// the link fails. post must be set before Run is called.
func (lm *linkManager) Run(ctx context.Context) error {
	go lm.writerLoop(ctx)

	// unblock a pending Read on shutdown
	go func() {
		<-ctx.Done()
		if conn, _ := lm.getConn(); conn != nil {
			conn.Close()
		}
	}()

	_, info := lm.getConn()
	lm.post(engine.LinkChanged{Up: true, Info: info})

	for {
		err := lm.readFromConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}

		lm.log.Warn().Err(err).Msg("connection lost")
		lm.post(engine.LinkChanged{Up: false, Info: info, Err: err})

		if !lm.reconnect(ctx) {
			return nil
		}
		_, info = lm.getConn()
		lm.post(engine.LinkChanged{Up: true, Info: info})
	}
}

// readFromConnection posts received bytes until the connection fails
func (lm *linkManager) readFromConnection(ctx context.Context) error {
	conn, _ := lm.getConn()
	if conn == nil {
		return errors.New("no connection")
	}

	buf := make([]byte, linkReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if !lm.post(engine.BytesArrived{Data: bytes.Clone(buf[:n])}) {
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (lm *linkManager) reconnect(ctx context.Context) bool {
	if conn, _ := lm.getConn(); conn != nil {
		conn.Close()
	}
	lm.setConn(nil, "")

	backoff := lm.initialBackoff
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := lm.open()
		if err == nil {
			lm.setConn(conn, connInfo)
			if ctx.Err() != nil {
				conn.Close()
				return false
			}
			lm.log.Info().Str("link", connInfo).Msg("reconnected")
			return true
		}
		lm.log.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect failed")

		backoff *= 2
		if backoff > lm.maxBackoff {
			backoff = lm.maxBackoff
		}
	}
}

// writerLoop writes queued command frames to whichever connection is current
func (lm *linkManager) writerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-lm.outbound:
			conn, _ := lm.getConn()
			if conn == nil {
				lm.log.Debug().Msg("link down, command frame dropped")
				continue
			}
			if _, err := conn.Write(f); err != nil {
				lm.log.Warn().Err(err).Msg("write failed")
			}
		}
	}
}
