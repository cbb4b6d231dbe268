package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/engine"
	"parley/internal/engine/actors"
	"parley/internal/handlers"
	"parley/internal/middleware"
	"parley/internal/realtime"
	"parley/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewMongoDB(cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Close(shutdownCtx); err != nil {
			logger.Error("failed to close MongoDB connection", "error", err)
		}
	}()

	var store database.Store = db
	metrics := utils.NewMetricsCollector()
	hub := realtime.NewHub(store, logger)

	// With Redis configured, events route through the bridge so every
	// instance's subscribers see mutations handled anywhere.
	var sink actors.EventSink = hub
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		bridge := realtime.NewBridge(hub, rdb, logger)
		go bridge.Run(ctx)
		sink = bridge
		logger.Info("redis bridge enabled", "addr", cfg.Redis.Addr)
	}

	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, store, sink, metrics, logger)

	auth := middleware.NewAuthenticator(cfg.JWTSecret)
	server := handlers.NewServer(eng, hub, auth, metrics, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HandleHealth)
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			server.HandleCreateRoom(w, r)
		case http.MethodGet:
			server.HandleListRooms(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/rooms/message", server.HandleSendMessage)
	mux.HandleFunc("/rooms/leave", server.HandleLeaveRoom)
	mux.HandleFunc("/rooms/read", server.HandleMarkRead)
	mux.HandleFunc("/rooms/history", server.HandleRoomHistory)
	mux.HandleFunc("/ws", server.HandleRoomWS)
	mux.HandleFunc("/ws/rooms", server.HandleRoomListWS)

	corsConfig := middleware.DefaultCORSConfig(cfg.AllowedOrigins)
	handler := middleware.CORSMiddleware(corsConfig)(auth.Middleware(mux))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websockets hold the connection open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
