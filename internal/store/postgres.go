// Package store provides storage backends for conversations.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewPostgresStore: invoked", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("store.NewPostgresStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("store.NewPostgresStore: failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("store.NewPostgresStore: ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("store.NewPostgresStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewPostgresStore: migrations applied")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, messages, phase, observations, suspended_node, created_at, updated_at
		FROM conversations WHERE user_id = $1`, userID)
	return scanConversation(row)
}

func (s *PostgresStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages for %s: %w", conv.UserID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, name, messages, phase, observations, suspended_node, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			messages = EXCLUDED.messages,
			phase = EXCLUDED.phase,
			observations = EXCLUDED.observations,
			suspended_node = EXCLUDED.suspended_node,
			updated_at = NOW()`,
		conv.UserID, conv.Name, string(messagesJSON), string(conv.Phase), conv.Observations, conv.SuspendedNode)
	if err != nil {
		slog.Error("PostgresStore.SaveConversation: upsert failed", "error", err, "userId", conv.UserID)
		return fmt.Errorf("failed to save conversation for %s: %w", conv.UserID, err)
	}
	return nil
}

func (s *PostgresStore) SetObservations(ctx context.Context, userID, value string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, observations)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			observations = EXCLUDED.observations,
			updated_at = NOW()`, userID, value)
	if err != nil {
		slog.Error("PostgresStore.SetObservations: update failed", "error", err, "userId", userID)
		return fmt.Errorf("failed to set observations for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, messages, phase, observations, suspended_node, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		slog.Error("PostgresStore.ListConversations: query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) SaveFlowDefinition(ctx context.Context, name string, def *models.FlowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal flow definition %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_definitions (name, definition, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			definition = EXCLUDED.definition,
			updated_at = NOW()`, name, string(defJSON))
	if err != nil {
		slog.Error("PostgresStore.SaveFlowDefinition: upsert failed", "error", err, "name", name)
		return fmt.Errorf("failed to save flow definition %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) GetFlowDefinition(ctx context.Context, name string) (*models.FlowDefinition, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM flow_definitions WHERE name = $1`, name).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flow definition %s: %w", name, err)
	}
	var def models.FlowDefinition
	if err := json.Unmarshal([]byte(defJSON), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow definition %s: %w", name, err)
	}
	return &def, nil
}

func (s *PostgresStore) MarkMessageSeen(ctx context.Context, userID, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_messages (user_id, fingerprint) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to record seen message for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("PostgresStore.Close: failed to close database", "error", err)
	}
	return err
}

var _ Store = (*PostgresStore)(nil)
