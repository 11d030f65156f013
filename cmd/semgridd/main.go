// Command semgridd serves a grid scheduler that runs simulator jobs on a
// bounded number of local slots.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/grid"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func main() {
	var grpcAddr string
	var httpAddr string
	var workers int
	var logLevel string
	var logJSON bool
	var otelEndpoint string

	flag.StringVar(&grpcAddr, "grpc-addr", ":50061", "gRPC listen address")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP status listen address (disabled when empty)")
	flag.IntVar(&workers, "workers", 0, "concurrent job slots (0 means one per CPU)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.BoolVar(&logJSON, "log-json", false, "emit JSON log records")
	flag.StringVar(&otelEndpoint, "otel-endpoint", os.Getenv("SEM_OTEL_ENDPOINT"), "OTLP/HTTP trace endpoint")
	flag.Parse()

	if logJSON {
		logger.SetDefault(logger.New(logLevel, os.Stdout))
	} else {
		logger.SetDefault(logger.NewText(logLevel, os.Stdout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "semgridd", otelEndpoint)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	jobs := grid.NewJobStore()
	scheduler := grid.NewScheduler(jobs, workers)

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grid.Register(grpcServer, grid.NewServer(scheduler))

	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", grpcAddr, "error", err)
		stop()
		os.Exit(1)
	}

	go func() {
		logger.Info("grid scheduler listening", "addr", grpcAddr, "slots", scheduler.Slots())
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	var httpSrv *http.Server
	if httpAddr != "" {
		httpSrv = &http.Server{
			Addr:              httpAddr,
			Handler:           grid.NewHTTPServer(jobs, scheduler).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		go func() {
			logger.Info("HTTP status server listening", "addr", httpAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hs.Shutdown()
	grpcServer.GracefulStop()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", "error", err)
		}
	}
	scheduler.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown error", "error", err)
	}
}
