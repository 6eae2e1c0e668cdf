/*
Package main is the entry point for the duochat gateway.

It loads configuration, initializes the global logger, opens the configured conversation store and
the optional Redis presence mirror and NATS notifier, starts the HTTP server, and gracefully handles
operating system interrupt signals (SIGINT, SIGTERM).
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duochat/internal/app/cache"
	"duochat/internal/app/chat"
	"duochat/internal/app/db"
	"duochat/internal/app/events"
	"duochat/internal/app/mongodb"
	"duochat/internal/app/store"
	"duochat/internal/app/user"
	"duochat/internal/configs"
	"duochat/internal/handler"
	"duochat/internal/pkg/auth/jwt"
	"duochat/internal/pkg/logx"
	"duochat/internal/pkg/randx"
)

// backend is the conversation store selected by configuration.
type backend struct {
	store     store.ConversationStore
	directory user.Directory
	ping      handler.Pinger
	close     func()
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("store_driver", cfg.StoreDriver).
		Int("shard_count", cfg.ShardCount).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open conversation store", "driver", cfg.StoreDriver)
	}
	defer be.close()

	checks := map[string]handler.Pinger{"store": be.ping}
	deps := chat.Deps{
		Store:     be.store,
		Directory: be.directory,
		Verifier:  jwt.NewVerifier(cfg.JWTSecret),
	}

	gatewayID := randx.SessionID()

	if cfg.RedisURL != "" {
		presence, err := cache.NewPresence(ctx, cfg.RedisURL, gatewayID)
		if err != nil {
			logx.Fatal(err, "Failed to connect to Redis")
		}
		defer presence.Close()

		if err := presence.Reset(ctx); err != nil {
			logx.Warn("Failed to clear stale presence records", "error", err.Error())
		}
		deps.Mirror = presence
		checks["redis"] = presence
		logx.Info("Redis presence mirror enabled")
	}

	if cfg.NATSURL != "" {
		notifier, err := events.Connect(events.Config{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
			Name:    "duochat-" + gatewayID,
		})
		if err != nil {
			logx.Fatal(err, "Failed to connect to NATS")
		}
		defer notifier.Close()

		deps.Notifier = notifier
		checks["nats"] = notifier
		logx.Info("NATS message notifier enabled", "subject", cfg.NATSSubject)
	}

	// Initialize Chat Manager
	manager := chat.NewManager(cfg, deps)

	// Setup HTTP server and routes
	router, stopRouter := handler.Router(&handler.AppDeps{
		Manager: manager,
		Config:  cfg,
		Checks:  checks,
	})
	defer stopRouter()

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("duochat gateway starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Hijacked WebSocket connections are not tracked by Shutdown; the manager closes them.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	manager.Shutdown()

	logx.Info("Server gracefully stopped.")
}

func openBackend(ctx context.Context, cfg *configs.AppConfig) (*backend, error) {
	switch cfg.StoreDriver {
	case configs.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		st := db.NewStore(pool)
		return &backend{store: st, directory: st, ping: st, close: st.Close}, nil

	case configs.StoreMongo:
		client, database, err := mongodb.Connect(ctx, mongodb.Config{
			URI:         cfg.MongoURI,
			Database:    cfg.MongoDatabase,
			MaxPoolSize: 100,
		})
		if err != nil {
			return nil, err
		}
		st := mongodb.NewStore(database)
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return &backend{
			store:     st,
			directory: st,
			ping:      pingFunc(func(ctx context.Context) error { return client.Ping(ctx, nil) }),
			close:     func() { _ = client.Disconnect(context.Background()) },
		}, nil

	default:
		mem := seedMemory()
		return &backend{
			store:     mem,
			directory: mem,
			ping:      pingFunc(func(context.Context) error { return nil }),
			close:     func() {},
		}, nil
	}
}

// seedMemory creates two demo users with a shared conversation for local development.
func seedMemory() *store.Memory {
	mem := store.NewMemory()
	mem.PutUser(user.User{ID: "alice", Name: "Alice", Email: "alice@example.com"})
	mem.PutUser(user.User{ID: "bob", Name: "Bob", Email: "bob@example.com"})

	conv := mem.CreateConversation("alice", "bob")
	logx.Info("In-memory store seeded", "conversation_id", conv.ID, "users", "alice,bob")
	return mem
}
