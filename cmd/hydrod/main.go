package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hydro/config"
	"hydro/native/hydro"
	"hydro/observability/logging"
	"hydro/observability/otel"
	"hydro/rpc"
	"hydro/storage"
)

func main() {
	configFile := flag.String("config", "./hydrod.toml", "Path to the configuration file")
	flag.Parse()

	env := os.Getenv("HYDROD_ENV")
	logger := logging.Setup("hydrod", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	engine, err := hydro.NewEngineFromStorage(db, hydro.DefaultConstants(), time.Now())
	if err != nil {
		panic(fmt.Sprintf("Failed to start hydro engine: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.OTel.Enable {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "hydrod",
			Environment: cfg.Environment,
			Endpoint:    cfg.OTel.Endpoint,
			Insecure:    cfg.OTel.Insecure,
			Metrics:     cfg.OTel.Metrics,
			Traces:      cfg.OTel.Traces,
		})
		if err != nil {
			logger.Error("Failed to start telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	server, err := rpc.NewServer(engine, rpc.JWTConfig{
		Enable:      cfg.JWTSecretEnv != "",
		HSSecretEnv: cfg.JWTSecretEnv,
		Issuer:      cfg.JWTIssuer,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to construct RPC server: %v", err))
	}

	if cfg.DatabaseURL != "" {
		archiver, err := storage.NewArchiver(cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to open archival database", slog.Any("error", err))
			os.Exit(1)
		}
		server.SetArchiver(archiver)
	}

	if cfg.ParquetArchiveDir != "" {
		if err := os.MkdirAll(cfg.ParquetArchiveDir, 0o755); err != nil {
			logger.Error("Failed to prepare parquet archive directory", slog.Any("error", err))
			os.Exit(1)
		}
		server.SetParquetArchiveDir(cfg.ParquetArchiveDir)
	}

	engine.SetEmitter(server.Broker())

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		panic(fmt.Sprintf("Failed to listen on %s: %v", cfg.ListenAddress, err))
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("hydrod listening", slog.String("address", cfg.ListenAddress))
		serveErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down hydrod")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-serveErr:
		if err != nil {
			logger.Error("hydrod server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
