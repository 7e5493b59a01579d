// Package store provides storage backends for conversations.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewSQLiteStore: invoked", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("store.NewSQLiteStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("store.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("store.NewSQLiteStore: failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("store.NewSQLiteStore: ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("store.NewSQLiteStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewSQLiteStore: migrations applied")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, messages, phase, observations, suspended_node, created_at, updated_at
		FROM conversations WHERE user_id = ?`, userID)
	return scanConversation(row)
}

func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages for %s: %w", conv.UserID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, name, messages, phase, observations, suspended_node, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			messages = excluded.messages,
			phase = excluded.phase,
			observations = excluded.observations,
			suspended_node = excluded.suspended_node,
			updated_at = CURRENT_TIMESTAMP`,
		conv.UserID, conv.Name, string(messagesJSON), string(conv.Phase), conv.Observations, conv.SuspendedNode)
	if err != nil {
		slog.Error("SQLiteStore.SaveConversation: upsert failed", "error", err, "userId", conv.UserID)
		return fmt.Errorf("failed to save conversation for %s: %w", conv.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) SetObservations(ctx context.Context, userID, value string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, observations)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			observations = excluded.observations,
			updated_at = CURRENT_TIMESTAMP`, userID, value)
	if err != nil {
		slog.Error("SQLiteStore.SetObservations: update failed", "error", err, "userId", userID)
		return fmt.Errorf("failed to set observations for %s: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, messages, phase, observations, suspended_node, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore.ListConversations: query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation for %s: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveFlowDefinition(ctx context.Context, name string, def *models.FlowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal flow definition %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_definitions (name, definition, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			definition = excluded.definition,
			updated_at = CURRENT_TIMESTAMP`, name, string(defJSON))
	if err != nil {
		slog.Error("SQLiteStore.SaveFlowDefinition: upsert failed", "error", err, "name", name)
		return fmt.Errorf("failed to save flow definition %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) GetFlowDefinition(ctx context.Context, name string) (*models.FlowDefinition, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM flow_definitions WHERE name = ?`, name).Scan(&defJSON)
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

func (s *SQLiteStore) MarkMessageSeen(ctx context.Context, userID, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO seen_messages (user_id, fingerprint) VALUES (?, ?)`, userID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to record seen message for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("SQLiteStore.Close: failed to close database", "error", err)
	}
	return err
}

// scanConversation scans a conversation from a single row, returning nil
// when the row does not exist.
func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var conv models.Conversation
	var messagesJSON string
	var phase string
	err := row.Scan(&conv.UserID, &conv.Name, &messagesJSON, &phase,
		&conv.Observations, &conv.SuspendedNode, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation failed: %w", err)
	}
	conv.Phase = models.Phase(phase)
	if messagesJSON != "" {
		if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
			slog.Error("store.scanConversation: failed to unmarshal messages", "error", err, "userId", conv.UserID)
			conv.Messages = nil
		}
	}
	return &conv, nil
}

// collectConversations drains rows into conversation records.
func collectConversations(rows *sql.Rows) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var messagesJSON string
		var phase string
		if err := rows.Scan(&conv.UserID, &conv.Name, &messagesJSON, &phase,
			&conv.Observations, &conv.SuspendedNode, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row failed: %w", err)
		}
		conv.Phase = models.Phase(phase)
		if messagesJSON != "" {
			if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
				slog.Error("store.collectConversations: failed to unmarshal messages", "error", err, "userId", conv.UserID)
				conv.Messages = nil
			}
		}
		out = append(out, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows failed: %w", err)
	}
	return out, nil
}

var _ Store = (*SQLiteStore)(nil)
