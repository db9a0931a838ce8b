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
	"syscall"

	"github.com/joho/godotenv"

	"reelmusic/internal/app"
	"reelmusic/internal/config"
	"reelmusic/internal/delivery"
	"reelmusic/internal/job"
	"reelmusic/internal/web"
)

// printUsage prints the usage information for the application
func printUsage() {
	fmt.Println("Usage: ./web [OPTIONS]")
	fmt.Println()
	fmt.Println("Configuration is read from the environment and an optional .env file.")
	fmt.Println("REPLICATE_API_TOKEN and APP_PASSWORD are required.")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Example: ./web -host 0.0.0.0 -port 8000")
}

func main() {
	port := flag.Int("port", 8000, "Port number for the web server")
	host := flag.String("host", "localhost", "Host address for the web server")
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	flag.Usage = printUsage
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *port <= 0 {
		fmt.Println("Error: Invalid port number:", *port)
		printUsage()
		os.Exit(2)
	}

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("no .env file loaded", "path", *envFile, "error", err)
	}

	cfg, err := config.Load(config.RequireServer)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := job.NewEventBus(1000)
	svc, err := app.Service(cfg, logger, bus)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	var publisher web.Publisher
	if cfg.ArtifactBucket != "" {
		p, err := delivery.NewS3PublisherFromEnv(ctx, cfg.ArtifactBucket, cfg.AWSRegion, cfg.ArtifactURLTTL)
		if err != nil {
			slog.Error("failed to create S3 publisher", "bucket", cfg.ArtifactBucket, "error", err)
			os.Exit(1)
		}
		publisher = p
		slog.Info("url delivery enabled", "bucket", cfg.ArtifactBucket, "ttl", cfg.ArtifactURLTTL.String())
	}

	server := web.NewServer(svc, bus, publisher, cfg.AppPassword)
	listenAddr := fmt.Sprintf("%s:%d", *host, *port)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		slog.Error("failed to start listener", "addr", listenAddr, "error", err)
		os.Exit(1)
	}
	defer lis.Close()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SynthesisTimeout+cfg.MediaTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown did not complete", "error", err)
		}
	}()

	slog.Info("starting web server", "addr", listenAddr, "styles", len(svc.Catalog().Names()))
	if err := server.Start(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
}
