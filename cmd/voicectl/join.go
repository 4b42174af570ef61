package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/voicelink/av"
	"github.com/opd-ai/voicelink/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type joinFlags struct {
	configPath  string
	oggPath     string
	metricsAddr string
}

func newJoinCmd() *cobra.Command {
	var flags joinFlags

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the configured voice room",
		Long: `Join connects to the voice gateway named in the config file, waits
until the media channel is ready and stays connected until interrupted.

With --ogg, the Opus pages of the file are sent at a 20ms cadence once the
session is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Address = flags.metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Log.Apply(logrus.StandardLogger()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJoin(ctx, cfg, flags.oggPath)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&flags.oggPath, "ogg", "", "Ogg/Opus file to stream once ready")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// runJoin holds one session open until ctx ends or the session closes.
func runJoin(ctx context.Context, cfg *config.Config, oggPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Address != "" {
		srv, err := newMetricsServer(cfg.Metrics.Address)
		if err != nil {
			return err
		}
		g.Go(func() error { return serveMetrics(gctx, srv) })
	}

	mgr := av.NewManager(cfg.Options(), cfg.Resolver())
	ended := make(chan error, 1)
	mgr.OnEvent(func(ev av.Event) {
		logEvent(ev)
		if ev.Kind == av.EventDisconnect {
			ended <- ev.Err
		}
	})

	id, server := cfg.Session()
	conn, err := mgr.Establish(gctx, id, server)
	if err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("establish: %w", err)
	}

	g.Go(func() error {
		defer cancel()
		select {
		case <-gctx.Done():
			mgr.DisconnectAll()
			return nil
		case err := <-ended:
			return err
		}
	})

	g.Go(func() error {
		if err := conn.WaitReady(gctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wait ready: %w", err)
		}
		host, port := conn.RemoteAddr()
		logrus.WithFields(logrus.Fields{
			"function": "runJoin",
			"room_id":  conn.RoomID(),
			"ssrc":     conn.SSRC(),
			"media":    fmt.Sprintf("%s:%d", host, port),
		}).Info("Voice session ready")

		if oggPath == "" {
			return nil
		}
		return streamFile(gctx, oggPath, conn)
	})

	return g.Wait()
}

func streamFile(ctx context.Context, path string, conn *av.Connection) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	frames, err := streamOgg(ctx, f, conn, frameDuration)
	logrus.WithFields(logrus.Fields{
		"function": "streamFile",
		"path":     path,
		"frames":   frames,
	}).Info("Finished streaming audio")

	if ctx.Err() != nil {
		// Interrupted; the session is being torn down.
		return nil
	}
	return err
}

func logEvent(ev av.Event) {
	fields := logrus.Fields{
		"function": "logEvent",
		"room_id":  ev.RoomID,
		"event":    ev.Kind.String(),
	}

	switch ev.Kind {
	case av.EventSpeaking:
		fields["user_id"] = ev.UserID
		fields["speaking"] = ev.Speaking
		if p, ok := ev.Peer.(av.NamedPeer); ok {
			fields["name"] = p.Name
		}
	case av.EventSpeakingUnresolved:
		fields["user_id"] = ev.UserID
		fields["speaking"] = ev.Speaking
	case av.EventClientDisconnect:
		fields["user_id"] = ev.UserID
	case av.EventDisconnect:
		if ev.Err != nil {
			fields["error"] = ev.Err.Error()
			logrus.WithFields(fields).Warn("Voice session ended")
			return
		}
	}
	logrus.WithFields(fields).Info("Voice event")
}

func newMetricsServer(addr string) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := av.RegisterMetrics(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}, nil
}

// serveMetrics runs srv until ctx ends.
func serveMetrics(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "serveMetrics",
			"addr":     srv.Addr,
		}).Info("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
