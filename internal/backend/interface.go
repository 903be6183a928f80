package backend

import (
	"context"

	"finrec/internal/services"
)

// Store is a partition store the server can health check and release.
type Store interface {
	services.RecordStore
	Ping(ctx context.Context) error
	Close() error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result holds the opened store and, when AMQP is configured and reachable,
// the publisher for partition events. Publisher is nil otherwise.
type Result struct {
	Type      BackendType
	Store     Store
	Publisher services.Publisher
	Cleanup   CleanupFunc
}

// Factory opens backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Optional partition event publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
