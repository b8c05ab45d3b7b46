// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// PasswordEnv is the environment variable holding the websocket password
const PasswordEnv = "HELIOGUARD_PASSWORD"

const (
	wsHandshakeTimeout = 10 * time.Second
	wsDialTimeout      = 15 * time.Second
)

// Connection is the board link: a serial port or a websocket bridge
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrConnectionClosed is returned once the far end has closed the link
var ErrConnectionClosed = errors.New("link closed")

// openSerial opens the board's UART at 8N1. Bytes already queued by the
// driver belong to an earlier session and are dropped.
func openSerial(port string, baud int) (Connection, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("flush %s: %w", port, err)
	}
	return p, nil
}

// wsLink streams websocket messages as one byte stream. A bridge may split
// or merge frames across messages; the extractor does not care.
type wsLink struct {
	conn *websocket.Conn
	cur  io.Reader
	err  error
}

func (l *wsLink) Read(p []byte) (int, error) {
	for l.err == nil {
		if l.cur == nil {
			kind, r, err := l.conn.NextReader()
			if err != nil {
				l.err = linkError(err)
				break
			}
			if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
				continue
			}
			l.cur = r
		}

		n, err := l.cur.Read(p)
		switch {
		case errors.Is(err, io.EOF):
			l.cur = nil
			err = nil
		case err != nil:
			l.cur = nil
			l.err = linkError(err)
			err = l.err
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, l.err
}

func (l *wsLink) Write(p []byte) (int, error) {
	if err := l.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, linkError(err)
	}
	return len(p), nil
}

func (l *wsLink) Close() error {
	return l.conn.Close()
}

// linkError folds an orderly shutdown into ErrConnectionClosed
func linkError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return err
}

// wsTarget is a parsed bridge address. Credentials given in the URL are
// moved into an Authorization header.
type wsTarget struct {
	url      string
	username string
	password string
	insecure bool
}

func parseWSTarget(raw, username, password string, insecure bool) (wsTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return wsTarget{}, fmt.Errorf("bad websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return wsTarget{}, fmt.Errorf("websocket url must be ws:// or wss://, got %q", u.Scheme)
	}
	if u.Host == "" {
		return wsTarget{}, fmt.Errorf("websocket url %q has no host", raw)
	}

	t := wsTarget{username: username, password: password, insecure: insecure && u.Scheme == "wss"}
	if u.User != nil {
		if t.username == "" {
			t.username = u.User.Username()
		}
		if pw, ok := u.User.Password(); ok && t.password == "" {
			t.password = pw
		}
		u.User = nil
	}
	t.url = u.String()
	return t, nil
}

func (t wsTarget) header() http.Header {
	h := http.Header{}
	if t.username != "" && t.password != "" {
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(t.username+":"+t.password)))
	}
	return h
}

func (t wsTarget) dial(ctx context.Context) (Connection, error) {
	d := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	if t.insecure {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, resp, err := d.DialContext(ctx, t.url, t.header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: HTTP %d: %w", t.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	return &wsLink{conn: conn}, nil
}

// readPassword returns $env if set, otherwise prompts on the terminal.
// Piped input is read as one line.
func readPassword(env string, in *os.File, prompt io.Writer) (string, error) {
	if pw := os.Getenv(env); pw != "" {
		return pw, nil
	}

	fmt.Fprint(prompt, "Password: ")
	defer fmt.Fprintln(prompt)

	if fd := int(in.Fd()); term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// connector opens the configured link. The websocket password is asked
// for once and reused on reconnect.
type connector struct {
	password string
	asked    bool
}

// linkTarget describes the configured link for display
func linkTarget() string {
	if cfg.WebSocket.URL != "" {
		return cfg.WebSocket.URL
	}
	return cfg.Serial.Port
}

// Open dials the websocket bridge if one is configured, else the serial port
func (c *connector) Open() (Connection, string, error) {
	if ws := cfg.WebSocket; ws.URL != "" {
		if ws.Username != "" && !c.asked {
			pw, err := readPassword(PasswordEnv, os.Stdin, os.Stderr)
			if err != nil {
				return nil, "", err
			}
			c.password, c.asked = pw, true
		}

		target, err := parseWSTarget(ws.URL, ws.Username, c.password, ws.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
		defer cancel()
		conn, err := target.dial(ctx)
		if err != nil {
			return nil, "", err
		}
		return conn, "WebSocket: " + target.url, nil
	}

	if s := cfg.Serial; s.Port != "" {
		conn, err := openSerial(s.Port, s.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", s.Port, s.Baud), nil
	}

	return nil, "", errors.New("no link configured: give --port or --url")
}

// OpenConnection opens the configured link once
func OpenConnection() (Connection, string, error) {
	var c connector
	return c.Open()
}
