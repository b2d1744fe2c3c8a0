package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tabletop-vtt/server/internal/assets"
	"github.com/tabletop-vtt/server/internal/authsvc"
	"github.com/tabletop-vtt/server/internal/config"
	"github.com/tabletop-vtt/server/internal/httpapi"
	"github.com/tabletop-vtt/server/internal/room"
	"github.com/tabletop-vtt/server/internal/storepg"
	"github.com/tabletop-vtt/server/internal/wsconn"
)

func main() {
	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping PostgreSQL:", err)
	}
	log.Println("🐘 connected to PostgreSQL")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	ctx := context.Background()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	log.Println("📮 connected to Redis")

	store := storepg.New(db, redisClient)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to provision room schema:", err)
	}

	sessions := authsvc.NewSessionService(db, cfg.SessionSigningKey)
	if err := sessions.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to provision account schema:", err)
	}

	var assetStore *assets.Store
	if cfg.S3Bucket != "" {
		assetStore, err = assets.New(cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			log.Printf("🖼️ asset storage disabled, could not open S3 session: %v", err)
		}
	}

	registry := room.NewRoomRegistry(store)
	wsHandler := wsconn.NewHandler(registry, sessions, cfg)
	api := httpapi.New(store, registry, sessions, assetStore, db, redisClient, wsHandler)

	mux := api.Router()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("🚀 listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed:", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("🛑 shutting down, flushing active rooms")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ graceful shutdown timed out: %v", err)
	}

	registry.ShutdownAll()
	log.Println("💾 all active rooms flushed, exiting")
}
