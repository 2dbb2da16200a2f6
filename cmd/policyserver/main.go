// Command policyserver runs the asynchronous RTC policy inference
// server: the gRPC AsyncInference service plus a debug HTTP/websocket
// surface, torn down together on shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/lerobot-rtc/policyserver/internal/config"
	"github.com/lerobot-rtc/policyserver/internal/debugfeed"
	"github.com/lerobot-rtc/policyserver/internal/metricsapi"
	"github.com/lerobot-rtc/policyserver/internal/pb"
	"github.com/lerobot-rtc/policyserver/internal/policy"
	"github.com/lerobot-rtc/policyserver/internal/policyserver"
	"github.com/lerobot-rtc/policyserver/internal/telemetry"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	defaults := config.Default()

	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory (.env)")
	host := flag.String("host", defaults.Host, "gRPC listen host")
	port := flag.Int("port", defaults.Port, "gRPC listen port")
	fps := flag.Float64("fps", defaults.FPS, "target observation rate")
	inferenceLatency := flag.Duration("inference-latency", defaults.InferenceLatency, "target GetActions tail latency")
	obsQueueTimeout := flag.Duration("obs-queue-timeout", defaults.ObsQueueTimeout, "max time GetActions waits for a fresh observation")
	debugHost := flag.String("debug-host", defaults.DebugHost, "debug HTTP/websocket listen host")
	debugPort := flag.Int("debug-port", defaults.DebugPort, "debug HTTP/websocket listen port")
	telemetryDSN := flag.String("telemetry-dsn", getEnv("TELEMETRY_DSN", ""), "Postgres DSN for inference telemetry (empty disables telemetry)")
	flag.Parse()

	instanceID := uuid.NewString()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("instance_id", instanceID)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		logger.Info("loaded environment file", "path", envPath)
	}

	cfg := config.Config{
		Host:             *host,
		Port:             *port,
		FPS:              *fps,
		InferenceLatency: *inferenceLatency,
		ObsQueueTimeout:  *obsQueueTimeout,
		DebugHost:        *debugHost,
		DebugPort:        *debugPort,
		TelemetryDSN:     *telemetryDSN,
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink policyserver.TelemetrySink
	if cfg.TelemetryDSN != "" {
		telemetrySink, err := telemetry.Open(ctx, cfg.TelemetryDSN, logger.With("component", "telemetry"))
		if err != nil {
			logger.Error("failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer telemetrySink.Close()
		sink = telemetrySink
		logger.Info("telemetry persistence enabled")
	} else {
		logger.Info("telemetry persistence disabled (no --telemetry-dsn)")
	}

	registry := policy.NewRegistry(map[policy.Kind]policy.Factory{
		policy.KindACT:     unavailableModelFactory(policy.KindACT),
		policy.KindSmolVLA: unavailableModelFactory(policy.KindSmolVLA),
		policy.KindPi0:     unavailableModelFactory(policy.KindPi0),
	})

	srv := policyserver.New(cfg, registry, sink, logger.With("component", "policyserver"))

	grpcServer := grpc.NewServer()
	pb.RegisterAsyncInferenceServer(grpcServer, srv)

	promRegistry := prometheus.NewRegistry()
	collectors := metricsapi.NewCollectors(promRegistry)
	srv.SetMetricsSink(collectors)

	debugHub := debugfeed.NewHub(logger.With("component", "debugfeed"))
	srv.SetDebugSink(debugHub)

	healthCheck := func(ctx context.Context) (bool, string) {
		state := srv.State()
		return state == policyserver.StateReady, string(state)
	}
	debugRouter := metricsapi.NewRouter(promRegistry, healthCheck)
	debugRouter.GET("/debug/rtc", gin.WrapF(debugHub.HandleWS))

	g, ctx := errgroup.WithContext(ctx)

	grpcAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to bind gRPC listener", "addr", grpcAddr, "error", err)
		os.Exit(1)
	}

	debugAddr := fmt.Sprintf("%s:%d", cfg.DebugHost, cfg.DebugPort)
	debugServer := &http.Server{Addr: debugAddr, Handler: debugRouter}

	debugStop := make(chan struct{})

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", grpcAddr)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info("debug HTTP/websocket server listening", "addr", debugAddr)
		err := debugServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		debugHub.Run(debugStop)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received, draining servers")

		srv.Shutdown()
		close(debugStop)

		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return debugServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func unavailableModelFactory(kind policy.Kind) policy.Factory {
	return func(pretrainedNameOrPath, device string) (policy.Model, error) {
		return nil, fmt.Errorf("policy: no %s backend bundled with this build (requested %s on %s)", kind, pretrainedNameOrPath, device)
	}
}
