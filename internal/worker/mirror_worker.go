package worker

import (
	"context"
	"fmt"
	"log/slog"

	"finrec/internal/amqp"
	"finrec/internal/services"
	"finrec/internal/sheets"
)

// MirrorWorker copies replaced partitions from storage into a sheet mirror.
type MirrorWorker struct {
	storage sheets.PartitionReader
	mirror  sheets.PartitionMirror
}

func NewMirrorWorker(storage sheets.PartitionReader, mirror sheets.PartitionMirror) *MirrorWorker {
	return &MirrorWorker{storage: storage, mirror: mirror}
}

// HandlePartitionReplaced processes one message. Storage is the source of
// truth: the partition is read back rather than trusted from the message, so
// redelivered or reordered messages converge on the latest committed state.
func (w *MirrorWorker) HandlePartitionReplaced(ctx context.Context, msg *amqp.PartitionReplacedMessage) error {
	key := msg.Key()
	slog.InfoContext(ctx, "Processing partition replaced message",
		"user_id", key.UserID,
		"year", key.Year,
		"records", msg.Records)

	records, err := w.storage.ListRecords(ctx, key)
	if err != nil {
		return fmt.Errorf("read partition %s: %w", key, err)
	}

	if msg.Checksum != "" {
		if current := services.Checksum(records); current != msg.Checksum {
			// A newer replace committed since; its own message follows.
			slog.InfoContext(ctx, "Partition changed since message was published, mirroring current state",
				"user_id", key.UserID,
				"year", key.Year)
		}
	}

	if err := w.mirror.MirrorPartition(ctx, key, records); err != nil {
		return fmt.Errorf("mirror partition %s: %w", key, err)
	}
	return nil
}
