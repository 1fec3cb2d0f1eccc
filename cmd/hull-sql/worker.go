package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/hull-ships/hull-sql-sub000/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for scheduled syncs",
	Long: `Connect to Temporal and serve the sync workflow and activities on the
configured task queue. When temporal.schedule_every is set, a schedule running
incremental syncs at that interval is created if it does not exist yet.

A gRPC health endpoint is served on grpc.port and Prometheus metrics on
metrics.addr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		serveMetrics(ctx, cfg.Metrics.Addr, logger)

		rt, err := buildAgent(ctx, cfg, logger, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return fmt.Errorf("connect to temporal: %w", err)
		}
		defer c.Close()

		if cfg.Temporal.ScheduleEvery > 0 {
			id := "hull-sql-sync-" + cfg.Connector.ID
			req := worker.SyncRequest{HeartbeatTimeout: cfg.Temporal.HeartbeatTimeout}
			if err := worker.EnsureSchedule(ctx, c, id, cfg.Temporal.TaskQueue, cfg.Temporal.ScheduleEvery, req); err != nil {
				return fmt.Errorf("ensure schedule: %w", err)
			}
			logger.Info("schedule ready", zap.String("schedule_id", id), zap.Duration("every", cfg.Temporal.ScheduleEvery))
		}

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("listen on grpc port %d: %w", cfg.GRPC.Port, err)
		}
		grpcServer := grpc.NewServer()
		healthSrv := health.NewServer()
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		reflection.Register(grpcServer)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("serve gRPC", zap.Error(err))
			}
		}()
		defer grpcServer.GracefulStop()

		w := worker.New(c, cfg.Temporal.TaskQueue, worker.NewActivities(rt.agent))
		logger.Info("worker started",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("temporal", cfg.Temporal.HostPort),
			zap.Int("grpc_port", cfg.GRPC.Port))

		stop := make(chan interface{})
		go func() {
			<-ctx.Done()
			healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			close(stop)
		}()
		return w.Run(stop)
	},
}
