package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"finrec/internal/core"
)

// PartitionReplacedMessage announces that a partition was rewritten. It only
// identifies the partition; consumers read the records back from storage.
type PartitionReplacedMessage struct {
	UserID    string    `json:"user_id"`
	Year      int       `json:"year"`
	Records   int       `json:"records"`
	Checksum  string    `json:"checksum,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPartitionReplacedMessage(key core.PartitionKey, records int, checksum string) *PartitionReplacedMessage {
	return &PartitionReplacedMessage{
		UserID:    key.UserID,
		Year:      key.Year,
		Records:   records,
		Checksum:  checksum,
		Timestamp: time.Now(),
	}
}

func (m *PartitionReplacedMessage) Key() core.PartitionKey {
	return core.PartitionKey{UserID: m.UserID, Year: m.Year}
}

// ToJSON converts the message to JSON bytes
func (m *PartitionReplacedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PartitionReplacedMessageFromJSON decodes and validates a message body.
func PartitionReplacedMessageFromJSON(data []byte) (*PartitionReplacedMessage, error) {
	var msg PartitionReplacedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Key().Validate(); err != nil {
		return nil, fmt.Errorf("message key: %w", err)
	}
	return &msg, nil
}
