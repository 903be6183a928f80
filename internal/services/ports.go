package services

import (
	"context"

	"finrec/internal/core"
)

// Ports consumed by the services.
type (
	// RecordStore is the transactional partition store.
	RecordStore interface {
		// ReplacePartition atomically swaps the whole partition for records.
		ReplacePartition(ctx context.Context, key core.PartitionKey, records []core.FinancialRecord) (int, error)
		// ListRecords returns the partition ordered by month.
		ListRecords(ctx context.Context, key core.PartitionKey) ([]core.FinancialRecord, error)
		DeletePartition(ctx context.Context, key core.PartitionKey) (int, error)
		ListPartitions(ctx context.Context, userID string) ([]core.PartitionInfo, error)
	}

	// Publisher announces committed partition changes to other processes.
	Publisher interface {
		PublishPartitionReplaced(ctx context.Context, key core.PartitionKey, records int, checksum string) error
	}
)
