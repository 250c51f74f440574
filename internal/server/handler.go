package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/auth"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/store"
)

// AccountStore persists and looks up accounts.
type AccountStore interface {
	CreateUser(ctx context.Context, username, hashedPassword string) error
	UserByUsername(ctx context.Context, username string) (store.User, error)
}

// HistoryStore serves the message backlog.
type HistoryStore interface {
	RecentMessages(ctx context.Context) ([]model.ChatMessage, error)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ServeRegister handles account creation.
func ServeRegister(db AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var creds credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			respondDetail(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if creds.Username == "" || creds.Password == "" {
			respondDetail(w, http.StatusBadRequest, "username and password are required")
			return
		}

		hashedPw, err := auth.HashPassword(creds.Password)
		if err != nil {
			log.Printf("argon2id hash creation failed: %v", err)
			respondDetail(w, http.StatusInternalServerError, "server error")
			return
		}

		if err := db.CreateUser(ctx, creds.Username, hashedPw); err != nil {
			if errors.Is(err, store.ErrUserExists) {
				respondDetail(w, http.StatusBadRequest, "username already taken")
				return
			}
			log.Printf("failed to create user entry in database: %v", err)
			respondDetail(w, http.StatusInternalServerError, "server error")
			return
		}

		respondJSON(w, http.StatusCreated, map[string]string{"message": "account created"})

		slog.InfoContext(ctx, "user signed up",
			slog.String("username", creds.Username))
	}
}

// ServeLogin handles user login and mints the session token.
func ServeLogin(db AccountStore, tokenSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var creds credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			respondDetail(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user, err := db.UserByUsername(ctx, creds.Username)
		if err != nil {
			if !errors.Is(err, store.ErrUserNotFound) {
				log.Printf("failed to retrieve user from db: %v", err)
			}
			respondDetail(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		ok, err := auth.CheckPasswordHash(creds.Password, user.HashedPassword)
		if err != nil {
			log.Printf("cannot verify password - hash may be corrupted: %v", err)
			respondDetail(w, http.StatusInternalServerError, "server error")
			return
		}
		if !ok {
			respondDetail(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := auth.MakeToken(user.Username, tokenSecret, auth.TokenTTL)
		if err != nil {
			log.Printf("failed to mint token: %v", err)
			respondDetail(w, http.StatusInternalServerError, "server error")
			return
		}

		respondJSON(w, http.StatusOK, model.Session{
			Username: user.Username,
			Token:    token,
		})

		slog.InfoContext(ctx, "user logged in",
			slog.String("username", user.Username))
	}
}

// ServeMessages loads recent chat history for a connecting client.
func ServeMessages(db HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messages, err := db.RecentMessages(r.Context())
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			log.Printf("failed to load messages from database: %v", err)
			respondDetail(w, http.StatusInternalServerError, "server error")
			return
		}

		if messages == nil {
			messages = []model.ChatMessage{}
		}
		respondJSON(w, http.StatusOK, messages)
	}
}

// ServeWs handles the client's websocket connection upgrade.
func ServeWs(hub *Hub, tokenSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("failed to upgrade connection: %v", err)
			return
		}

		c := NewClient(conn, hub, tokenSecret)
		reg := Registration{
			Client: c,
			Done:   make(chan struct{}),
		}

		hub.Register <- reg

		// Wait for registration to complete.
		<-reg.Done

		// Block on ReadPump; the request context is cancelled as soon as
		// this handler returns.
		go c.WritePump(ctx)
		c.ReadPump(ctx)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
