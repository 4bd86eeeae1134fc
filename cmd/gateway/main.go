package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/server"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redis, err := storage.NewRedis(
		cfg.Redis.Addr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	log.Println("Connected to Redis successfully")

	postgres, err := storage.NewPostgres(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	srv, err := server.New(cfg, redis, postgres)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
