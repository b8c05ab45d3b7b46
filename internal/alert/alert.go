// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package alert mails protection alerts to an operator list.
package alert

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	mail "gopkg.in/gomail.v2"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/status"
)

// PasswordEnv is the environment variable holding the SMTP password
const PasswordEnv = "HELIOGUARD_SMTP_PASSWORD"

const (
	defaultQueueSize   = 32
	defaultMinInterval = 5 * time.Minute
)

// DefaultAlerts are the alerts mailed when none are configured
var DefaultAlerts = []engine.Alert{
	engine.AlertTrip,
	engine.AlertResetRejected,
	engine.AlertBatteryDead,
	engine.AlertLinkDown,
}

// Config holds SMTP settings
type Config struct {
	Server             string
	Port               int
	Username           string
	Password           string
	From               string
	To                 []string
	InsecureSkipVerify bool

	// Alerts selects which alerts are mailed
	Alerts []engine.Alert
	// MinInterval suppresses repeats of the same alert
	MinInterval time.Duration
}

// Validate reports missing settings
func (c Config) Validate() error {
	var missing []string
	if c.Server == "" {
		missing = append(missing, "server")
	}
	if c.Port <= 0 {
		missing = append(missing, "port")
	}
	if c.From == "" {
		missing = append(missing, "from")
	}
	if len(c.To) == 0 {
		missing = append(missing, "to")
	}
	if len(missing) > 0 {
		return fmt.Errorf("mail alert settings missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Sender delivers messages. *gomail.Dialer implements it.
type Sender interface {
	DialAndSend(m ...*mail.Message) error
}

// NewDialer returns an SMTP dialer for cfg
func NewDialer(cfg Config) *mail.Dialer {
	dial := mail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		dial.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return dial
}

// Notifier mails selected engine alerts. It implements engine.Sink; only
// Log is used.
type Notifier struct {
	engine.NopSink

	cfg     Config
	sender  Sender
	tracker *status.Tracker
	log     zerolog.Logger

	queue    chan engine.LogEntry
	selected map[engine.Alert]bool
	lastSent map[engine.Alert]time.Time
	now      func() time.Time
}

// NewNotifier creates a notifier. tracker may be nil; when set, the mail
// body includes the current status.
func NewNotifier(cfg Config, sender Sender, tracker *status.Tracker, log zerolog.Logger) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, errors.New("no mail sender")
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	} else if cfg.MinInterval == 0 {
		cfg.MinInterval = defaultMinInterval
	}

	alerts := cfg.Alerts
	if len(alerts) == 0 {
		alerts = DefaultAlerts
	}
	selected := make(map[engine.Alert]bool, len(alerts))
	for _, a := range alerts {
		selected[a] = true
	}

	return &Notifier{
		cfg:      cfg,
		sender:   sender,
		tracker:  tracker,
		log:      log.With().Str("component", "alert").Logger(),
		queue:    make(chan engine.LogEntry, defaultQueueSize),
		selected: selected,
		lastSent: make(map[engine.Alert]time.Time),
		now:      time.Now,
	}, nil
}

// Log queues selected alerts. It never blocks the engine.
func (n *Notifier) Log(e engine.LogEntry) {
	if e.Kind != engine.LogAlert || !n.selected[e.Alert] {
		return
	}
	select {
	case n.queue <- e:
	default:
		n.log.Warn().Str("alert", e.Alert.String()).Msg("mail queue full, dropping")
	}
}

// Run sends queued alerts until ctx is done
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-n.queue:
			n.send(e)
		}
	}
}

func (n *Notifier) send(e engine.LogEntry) {
	now := n.now()
	if last, ok := n.lastSent[e.Alert]; ok && now.Sub(last) < n.cfg.MinInterval {
		n.log.Debug().Str("alert", e.Alert.String()).Msg("suppressing repeated mail alert")
		return
	}

	if err := n.sender.DialAndSend(n.compose(e)); err != nil {
		n.log.Error().Err(err).Str("alert", e.Alert.String()).Msg("could not send mail alert")
		return
	}
	n.lastSent[e.Alert] = now
	n.log.Info().Str("alert", e.Alert.String()).Strs("to", n.cfg.To).Msg("mail alert sent")
}

func (n *Notifier) compose(e engine.LogEntry) *mail.Message {
	var body strings.Builder
	fmt.Fprintf(&body, "alert: %s\ntime:  %s\n%s\n", e.Alert, e.Time.UTC().Format(time.RFC3339), e.Message)
	if e.Err != nil {
		fmt.Fprintf(&body, "error: %v\n", e.Err)
	}

	if n.tracker != nil {
		snap := n.tracker.Snapshot()
		st := snap.State
		fmt.Fprintf(&body, "\ncircuit: %s\nbattery: %s\nmode:    %s\n", st.Circuit, st.Battery, st.Mode)
		if tel := snap.Telemetry; tel != nil && tel.Sample != nil {
			fmt.Fprintf(&body, "battery: %.3f V, %.2f mA\nsolar:   %.3f V\n",
				tel.Sample.BatteryVoltage, tel.Sample.BatteryCurrentMA, tel.Sample.SolarVoltage)
		}
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", n.cfg.From)
	msg.SetHeader("Bcc", n.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[helioguard] %s", e.Alert))
	msg.SetBody("text/plain", body.String())
	return msg
}
