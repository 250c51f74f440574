// Package store persists users and messages in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
)

// HistoryLimit caps how much backlog the history endpoint serves.
const HistoryLimit = 50

var (
	ErrUserExists   = errors.New("store: username already taken")
	ErrUserNotFound = errors.New("store: user not found")
)

// User is an account row.
type User struct {
	Username       string
	HashedPassword string
	CreatedAt      time.Time
}

// Store wraps the connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateUser inserts an account. Duplicate usernames fail with
// ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, username, hashedPassword string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, hashed_password, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (username) DO NOTHING`,
		username, hashedPassword)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserExists
	}
	return nil
}

// UserByUsername loads one account.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT username, hashed_password, created_at
		FROM users
		WHERE username = $1`,
		username).Scan(&u.Username, &u.HashedPassword, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// SaveMessage stores one message and returns the stored row. The
// server-assigned id and timestamp are what gets echoed to clients.
func (s *Store) SaveMessage(ctx context.Context, username, content string) (model.ChatMessage, error) {
	msg := model.ChatMessage{
		ID:       uuid.New(),
		Username: username,
		Content:  content,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, username, content, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING created_at`,
		msg.ID, msg.Username, msg.Content).Scan(&msg.Timestamp)
	if err != nil {
		return model.ChatMessage{}, fmt.Errorf("store: save message: %w", err)
	}
	return msg, nil
}

// RecentMessages returns the newest messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context) ([]model.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, content, created_at
		FROM (
			SELECT id, username, content, created_at
			FROM messages
			ORDER BY created_at DESC
			LIMIT $1
		) latest
		ORDER BY created_at ASC`,
		HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.Username, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return messages, nil
}
