// Package store provides storage backends for conversations, flow
// definitions and inbound message deduplication.
//
// It includes an in-memory store for tests, an SQLite store for single-node
// deployments and a PostgreSQL store for production.
package store

import (
	"context"
	"strings"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// Opts holds configuration options for storage backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for storage backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore creates a backend matching the DSN: Postgres for Postgres-style
// DSNs, SQLite for file paths, in-memory when the DSN is empty.
func NewStore(dsn string) (Store, error) {
	if dsn == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithDSN(dsn))
	}
	return NewSQLiteStore(WithDSN(dsn))
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// GetConversation returns the conversation for a user, or nil when none
	// exists yet.
	GetConversation(ctx context.Context, userID string) (*models.Conversation, error)

	// SaveConversation upserts the full conversation record.
	SaveConversation(ctx context.Context, conv *models.Conversation) error

	// SetObservations updates only the observaciones flag of a conversation,
	// creating the record if needed.
	SetObservations(ctx context.Context, userID, value string) error

	// ListConversations returns all conversations ordered by last update.
	ListConversations(ctx context.Context) ([]*models.Conversation, error)

	// DeleteConversation removes a conversation record.
	DeleteConversation(ctx context.Context, userID string) error

	// SaveFlowDefinition upserts a named flow graph.
	SaveFlowDefinition(ctx context.Context, name string, def *models.FlowDefinition) error

	// GetFlowDefinition returns a named flow graph, or nil when absent.
	GetFlowDefinition(ctx context.Context, name string) (*models.FlowDefinition, error)

	// MarkMessageSeen records an inbound message fingerprint. It returns true
	// when the fingerprint was not seen before (the message is fresh).
	MarkMessageSeen(ctx context.Context, userID, fingerprint string) (bool, error)

	// Close releases backend resources.
	Close() error
}
