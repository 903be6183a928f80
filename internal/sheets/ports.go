package sheets

import (
	"context"

	"finrec/internal/core"
)

// Ports for outbound adapters.
type (
	// PartitionMirror copies a committed partition into an external sheet.
	// An empty records slice clears the user's rows for that year.
	PartitionMirror interface {
		MirrorPartition(ctx context.Context, key core.PartitionKey, records []core.FinancialRecord) error
	}

	// PartitionReader reads the stored partition back.
	PartitionReader interface {
		ListRecords(ctx context.Context, key core.PartitionKey) ([]core.FinancialRecord, error)
	}
)
