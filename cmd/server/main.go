package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"lilychat/internal/config"
	"lilychat/internal/database"
	"lilychat/internal/engine"
	"lilychat/internal/handlers"
	"lilychat/internal/middleware"
	"lilychat/internal/realtime"
	"lilychat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))

	db, err := openDatabase(cfg)
	if err != nil {
		slog.Error("failed to open database", "type", cfg.Database.Type, "error", err)
		os.Exit(1)
	}
	defer db.Close(context.Background())

	middleware.SetSecret(cfg.JWTSecret)

	hub := realtime.NewHub()
	go hub.Run()

	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, db, hub, metrics)

	server := handlers.NewServer(system, eng, metrics, hub, db)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HandleHealth())
	mux.HandleFunc("/metrics", server.HandleMetrics())
	mux.HandleFunc("/auth/register", server.HandleRegister())
	mux.HandleFunc("/auth/login", server.HandleLogin())
	mux.HandleFunc("/auth/session", server.HandleSession())
	mux.HandleFunc("/auth/logout", server.HandleLogout())
	mux.HandleFunc("/profiles", server.HandleProfile())
	mux.HandleFunc("/profiles/search", server.HandleSearchProfiles())
	mux.HandleFunc("/profiles/me", server.HandleUpdateProfile())
	mux.HandleFunc("/profiles/heartbeat", server.HandleHeartbeat())
	mux.HandleFunc("/messages", server.HandleSendMessage())
	mux.HandleFunc("/messages/mark-seen", server.HandleMarkSeen())
	mux.HandleFunc("/messages/mark-delivered", server.HandleMarkDelivered())
	mux.HandleFunc("/conversations", server.HandleConversation())
	mux.HandleFunc("/conversations/resolve", server.HandleResolveConversation())
	mux.HandleFunc("/feed", server.HandleFeed())

	corsConfig := middleware.DefaultCORSConfig(cfg.AllowedOrigins)
	handler := middleware.CORSMiddleware(corsConfig)(middleware.AuthMiddleware(mux))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting server", "addr", addr, "db", cfg.Database.Type)
	if err := http.ListenAndServe(addr, handler); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (database.DBAdapter, error) {
	switch cfg.Database.Type {
	case "postgres":
		db, err := database.NewPostgresDB(cfg.Database.URI)
		if err != nil {
			return nil, err
		}
		if err := db.InitializeTables(context.Background()); err != nil {
			return nil, err
		}
		return db, nil
	case "mongo":
		return database.NewMongoDB(cfg.Database.URI, cfg.Database.Name)
	case "memory":
		slog.Warn("using in-memory database, data will not survive restarts")
		return database.NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
}
