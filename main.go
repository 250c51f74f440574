// Package main our entry point.
package main

import (
	"context"
	"embed"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pressly/goose/v3"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/broker"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
	ratelimiter "github.com/NatanOuaki/realtime-chat-x-updev/internal/rate_limiter"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/server"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/store"
)

//go:embed sql/schema/*.sql
var embedMigrations embed.FS

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		log.Fatal("TOKEN_SECRET environment variable is not set")
	}

	// Init DB
	log.Println("Starting application...")
	log.Println("Initializing Database connection...")

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL environment variable is not set")
	}

	dbConn, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("could not connect to the postgresql database: %v", err)
	}

	// Apply migrations on startup.
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("goose.SetDialect() error = %+v", err)
	}
	dbForGoose := stdlib.OpenDBFromPool(dbConn)
	if err := goose.Up(dbForGoose, "sql/schema"); err != nil {
		log.Fatalf("goose.Up() error = %+v", err)
	}

	db := store.New(dbConn)

	// Init NATS. Without a broker the hub loops messages back
	// in-process, which is fine for a single instance.
	var (
		natsConn *nats.Conn
		stream   jetstream.Stream
		publish  server.PublishFunc
	)

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		log.Println("Initializing NATS connection...")

		var natsCredentials []nats.Option

		if cred := os.Getenv("NATS_CRED"); cred != "" {
			natsCredentials = append(natsCredentials, nats.UserCredentials(cred))
		} else if user, pass := os.Getenv("NATS_USER"), os.Getenv("NATS_PASSWORD"); user != "" && pass != "" {
			natsCredentials = append(natsCredentials, nats.UserInfo(user, pass))
		}

		natsCredentials = append(natsCredentials, nats.Timeout(5*time.Second))

		natsConn, err = nats.Connect(natsURL, natsCredentials...)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}

		js, err := jetstream.New(natsConn)
		if err != nil {
			log.Fatalf("failed to create jetstream instance: %v", err)
		}

		stream, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     broker.StreamName,
			Subjects: []string{broker.SubjectLobby},
			MaxBytes: 1 << 30, // 1GB max storage
		})
		if err != nil {
			log.Fatalf("failed to create/update stream: %v", err)
		}

		publish = func(ctx context.Context, msg model.ChatMessage) error {
			return broker.Publish(ctx, js, msg)
		}
	}

	// hub.Run is our central hub that is always listening for client
	// related events.
	hub := server.NewHub(db, publish)
	go hub.Run(ctx)

	if stream != nil {
		if err := broker.Subscribe(ctx, stream, hub.BrokerMsg); err != nil {
			log.Fatalf("failed to subscribe to broker: %v", err)
		}
	}

	limiter := ratelimiter.NewIPRateLimiter(10, time.Minute, ratelimiter.CleanupOpts{
		TTL:      10 * time.Minute,
		Interval: time.Minute,
	})
	defer limiter.Cancel()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return limiter.Middleware(next)
		})
		r.Post("/register", server.ServeRegister(db))
		r.Post("/login", server.ServeLogin(db, tokenSecret))
	})

	// Clients load chat history over HTTP GET before starting websockets.
	r.Get("/messages", server.ServeMessages(db))
	r.Get("/ws", server.ServeWs(hub, tokenSecret))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		log.Printf("Server starting at 0.0.0.0:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutdown signal received; shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println(err)
	}

	// Drain NATS connection.
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			log.Printf("couldn't drain NATS conn: %+v", err)
		}
	}

	// Close DB connection.
	if err := dbForGoose.Close(); err != nil {
		log.Printf("couldn't close goose db handle: %+v", err)
	}
	dbConn.Close()

	log.Println("Server stopped")
}
