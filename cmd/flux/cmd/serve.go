package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fluxmedia/flux/internal/api"
	"github.com/fluxmedia/flux/internal/certs"
	"github.com/fluxmedia/flux/internal/config"
	"github.com/fluxmedia/flux/internal/edge"
	"github.com/fluxmedia/flux/internal/engine"
	"github.com/fluxmedia/flux/internal/ingest/quic"
	"github.com/fluxmedia/flux/internal/ingest/srt"
	"github.com/fluxmedia/flux/internal/netsched"
	"github.com/fluxmedia/flux/internal/server"
	"github.com/fluxmedia/flux/internal/stream"
	"github.com/fluxmedia/flux/internal/telemetry"
)

const apiShutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(fluxViper)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cert, err := certs.LoadOrGenerate(cfg.Server.CertFile, cfg.Server.KeyFile)
	if err != nil {
		return fmt.Errorf("loading certificate: %w", err)
	}
	slog.Info("certificate ready",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
		"self_signed", cert.SelfSigned,
	)

	sched := netsched.New(cfg.Network.EWMAAlpha)

	eng, err := engine.New(engine.Config{
		Workers:         cfg.Engine.Workers,
		VideoCapacities: [3]int(cfg.Engine.VideoCapacities),
		AudioCapacities: [2]int(cfg.Engine.AudioCapacities),
	}, sched, nil)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer eng.Close()

	edges := edge.NewRegistry(nil)
	for _, seed := range cfg.EdgeSeed {
		edges.Add(edge.Node{
			ID:        seed.ID,
			Address:   seed.Address,
			Region:    seed.Region,
			Capacity:  seed.Capacity,
			LatencyMs: seed.Latency,
			Codecs:    seed.Codecs,
		})
	}

	localNodeID := ""
	if len(cfg.EdgeSeed) > 0 {
		localNodeID = cfg.EdgeSeed[0].ID
	}

	srv, err := server.New(server.Config{
		ListenAddr:          cfg.Server.ListenAddr,
		MaintenanceInterval: cfg.Server.MaintenanceInterval,
		InactivityTimeout:   cfg.Server.InactivityTimeout,
		LocalNodeID:         localNodeID,
	}, eng, edges, cert, nil)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	streams := stream.NewManager(nil)
	telem := telemetry.NewHandler(sched, nil)
	apiSrv := api.New(api.Config{
		Engine:      eng,
		Edges:       edges,
		Scheduler:   sched,
		Telemetry:   telem,
		Connections: srv.Connections,
		Streams:     streams.List,
	}, nil)

	httpSrv := &http.Server{
		Addr:    cfg.Server.APIAddr,
		Handler: apiSrv.Handler(),
	}

	slog.Info("flux starting",
		"version", version,
		"listen", cfg.Server.ListenAddr,
		"srt", cfg.Server.SRTAddr,
		"quic", cfg.Server.QUICAddr,
		"api", cfg.Server.APIAddr,
	)

	g, ctx := errgroup.WithContext(ctx)

	eng.Run(ctx)

	g.Go(func() error {
		return srv.Start(ctx)
	})

	if cfg.Server.SRTAddr != "" {
		srtSrv := srt.NewServer(cfg.Server.SRTAddr, eng, streams, nil)
		g.Go(func() error {
			return srtSrv.Start(ctx)
		})
	}

	if cfg.Server.QUICAddr != "" {
		quicSrv := quic.NewServer(cfg.Server.QUICAddr, cert.TLSConfig(), eng, streams, nil)
		g.Go(func() error {
			return quicSrv.Start(ctx)
		})
	}

	g.Go(func() error {
		slog.Info("API server listening", "addr", cfg.Server.APIAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}
