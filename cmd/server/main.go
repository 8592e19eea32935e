package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/smart-import/internal/api"
	"github.com/ignite/smart-import/internal/app"
	"github.com/ignite/smart-import/internal/config"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	return ln.Close()
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx := context.Background()
	deps, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer deps.Close()

	// Nil pointers must not reach the checker as non-nil interfaces.
	var (
		db      api.Pinger
		rdb     redis.UniversalClient
		bucket  api.BucketHeader
		objects api.ObjectLoader
	)
	if deps.DB != nil {
		db = deps.DB
	}
	if deps.Redis != nil {
		rdb = deps.Redis
	}
	if deps.S3 != nil {
		bucket = deps.S3
	}
	if deps.Objects != nil {
		objects = deps.Objects
	}
	health := api.NewHealthChecker(db, rdb, bucket, cfg.S3.Bucket)

	handlers := api.NewImportHandlers(deps.Service, objects, cfg.Pipeline.MaxFileBytes())
	server := api.NewServer(cfg.Server, handlers, health)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	// Advisory reports still in flight get attached before the session store closes.
	if err := deps.Service.Wait(shutdownCtx); err != nil {
		log.Printf("Advisory checks still running at shutdown: %v", err)
	}

	log.Println("Server stopped")
}
