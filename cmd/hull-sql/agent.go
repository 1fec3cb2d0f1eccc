package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hull-ships/hull-sql-sub000/internal/config"
	_ "github.com/hull-ships/hull-sql-sub000/internal/connector"
	"github.com/hull-ships/hull-sql-sub000/internal/connector/minio"
	"github.com/hull-ships/hull-sql-sub000/internal/ingest"
	"github.com/hull-ships/hull-sql-sub000/internal/orchestration"
	"github.com/hull-ships/hull-sql-sub000/internal/statestore"
	"github.com/hull-ships/hull-sql-sub000/internal/tunnel"
)

// app holds an agent and everything that must be released with it.
type app struct {
	agent   *orchestration.Agent
	closers []func() error
	logger  *zap.Logger
}

func (r *app) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("shutdown", zap.Error(err))
		}
	}
	_ = r.logger.Sync()
}

// buildAgent wires an agent from cfg. withSink also provisions the object
// store and the import job client, which a preview does not need.
func buildAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger, withSink bool) (*app, error) {
	rt := &app{logger: logger}

	ports := tunnel.NewPortAllocator(cfg.Tunnel.PortMin, cfg.Tunnel.PortMax)
	tun := tunnel.New(ports, logger)
	rt.closers = append(rt.closers, tun.Shutdown)

	store, err := statestore.Open(ctx, cfg.State)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, store.Close)

	deps := orchestration.Deps{
		Store:   store,
		Tunnel:  tun,
		Logger:  logger,
		Metrics: orchestration.NewMetrics(prometheus.DefaultRegisterer),
	}

	if withSink {
		if err := cfg.RequireJobs(); err != nil {
			rt.Close()
			return nil, err
		}
		sink, err := minio.New(cfg.Sink)
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := sink.Provision(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		deps.Sink = sink

		var opts []ingest.Option
		if cfg.Jobs.RateLimit > 0 {
			opts = append(opts, ingest.WithRateLimit(cfg.Jobs.RateLimit, cfg.Jobs.Burst))
		}
		opts = append(opts, ingest.WithRetries(cfg.Jobs.MaxRetries), ingest.WithTimeout(cfg.Jobs.Timeout))
		deps.Jobs = ingest.NewJobClient(cfg.Connector.Organization, cfg.Connector.ID, cfg.Connector.Secret, opts...)
	}

	agent, err := orchestration.NewAgent(cfg.AgentOptions(), cfg.Source, deps)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.agent = agent
	return rt, nil
}

// serveMetrics exposes /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
}
