// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/helioguard/internal/alert"
	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/mqtt"
	"github.com/Thermoquad/helioguard/internal/status"
	"github.com/Thermoquad/helioguard/internal/web"
	"github.com/Thermoquad/helioguard/pkg/output"
)

var (
	runHTTPAddr      string
	runMQTTBroker    string
	runInitialMode   string
	runStatsInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor headless with HTTP, MQTT and mail alerts",
	Long: `Run the protection engine without a terminal UI.

The engine decodes telemetry, enforces the trip thresholds and drives the
outputs. Optional collaborators, enabled by config or flags:
  --http :8080          status page, /index.json, /ws stream, POST /intent
  --mqtt tcp://host:1883  status and alert publishing
  alert.server (config) mail on trip, rejected reset, dead battery, link loss

The MQTT password is read from HELIOGUARD_MQTT_PASSWORD and the SMTP
password from HELIOGUARD_SMTP_PASSWORD.

POST /intent and websocket intents stay disabled unless
HELIOGUARD_INTENT_TOKEN is set. Clients then send it as
"Authorization: Bearer <token>" or as ?token= on the /ws URL.

The link is reopened with exponential backoff when it drops.`,
	RunE: runRun,
}

// MQTTPasswordEnv is the environment variable holding the broker password
const MQTTPasswordEnv = "HELIOGUARD_MQTT_PASSWORD"

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runHTTPAddr, "http", "", "HTTP listen address (overrides http.addr)")
	runCmd.Flags().StringVar(&runMQTTBroker, "mqtt", "", "MQTT broker URL (overrides mqtt.broker)")
	runCmd.Flags().StringVar(&runInitialMode, "mode", "manual", "Initial output mode (manual, traffic, pattern)")
	runCmd.Flags().DurationVar(&runStatsInterval, "stats-interval", 0, "Log frame statistics at this interval (0 disables)")
}

func runRun(cmd *cobra.Command, args []string) error {
	mode, err := output.ParseMode(runInitialMode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}

	var c connector
	conn, connInfo, err := c.Open()
	if err != nil {
		return err
	}
	logger.Info().Str("link", connInfo).Msg("connected")

	tracker := status.NewTracker(time.Now(), status.Config{
		Link:     linkTarget(),
		HTTPAddr: cfg.HTTP.Addr,
		Broker:   cfg.MQTT.Broker,
	})
	link := newLinkManager(conn, connInfo, c.Open, logger)
	sinks := engine.MultiSink{tracker, newLogSink(logger), link}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.MQTTOptions(os.Getenv(MQTTPasswordEnv)))
		if err != nil {
			conn.Close()
			return err
		}
		defer pub.Close()
		reporter := mqtt.NewReporter(pub, tracker, cfg.ReporterConfig(), logger)
		sinks = append(sinks, reporter)
		g.Go(func() error { return reporter.Run(ctx) })
		logger.Info().Str("broker", cfg.MQTT.Broker).Msg("mqtt publishing enabled")
	}

	if cfg.Alert.Server != "" {
		ac, err := cfg.AlertConfig(os.Getenv(alert.PasswordEnv))
		if err != nil {
			conn.Close()
			return err
		}
		notifier, err := alert.NewNotifier(ac, alert.NewDialer(ac), tracker, logger)
		if err != nil {
			conn.Close()
			return err
		}
		sinks = append(sinks, notifier)
		g.Go(func() error { return notifier.Run(ctx) })
		logger.Info().Strs("to", ac.To).Msg("mail alerts enabled")
	}

	eng, err := engine.New(sinks, opts)
	if err != nil {
		conn.Close()
		return err
	}
	link.post = eng.Post

	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return link.Run(ctx) })

	if cfg.HTTP.Addr != "" {
		token := os.Getenv(web.TokenEnv)
		srv := web.New(cfg.HTTP.Addr, tracker, eng, token, logger)
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		logger.Info().Str("addr", cfg.HTTP.Addr).Bool("intents", token != "").Msg("http status server listening")
	}

	if runStatsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(runStatsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					stats := tracker.Snapshot().State.Stats
					stats.CalculateRates()
					logger.Info().Msg(stats.String())
				}
			}
		})
	}

	if mode != output.ModeManual {
		eng.Post(engine.SetMode{Mode: mode})
	}

	err = g.Wait()
	logger.Info().Msg("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
