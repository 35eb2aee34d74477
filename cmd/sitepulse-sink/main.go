package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sitepulse/sitepulse-go/internal/sink"
)

func main() {
	_ = godotenv.Load()
	logger := log.New(os.Stderr, "sitepulse-sink: ", log.LstdFlags)

	dataDir := os.Getenv("SITEPULSE_SINK_DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir(logger)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Fatal("Failed to create data directory:", err)
	}

	store, err := sink.NewStore(filepath.Join(dataDir, "sink.db"))
	if err != nil {
		logger.Fatal(err)
	}
	defer store.Close()

	address := os.Getenv("SITEPULSE_SINK_ADDRESS")
	if address == "" {
		address = "127.0.0.1:8123"
	}

	server := &http.Server{
		Addr:         address,
		Handler:      sink.NewServer(store, logger).Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("sink listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Println("Shutting down server...")
		shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownContext)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal(err)
	}
	logger.Println("Server exited")
}

// defaultDataDir picks the platform-specific application data directory.
func defaultDataDir(logger *log.Logger) string {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Fatal("Failed to get user home directory:", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "SitePulse")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "SitePulse")
	default: // linux and others
		return filepath.Join(home, ".local", "share", "SitePulse")
	}
}
