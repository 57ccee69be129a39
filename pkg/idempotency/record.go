package idempotency

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Record is the stored state of one fingerprint.
type Record struct {
	Status      Status    `json:"status"`
	Result      []byte    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

func (r Record) terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

func encodeRecord(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

func decodeRecord(s string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	switch r.Status {
	case StatusPending, StatusCompleted, StatusFailed:
		return r, nil
	default:
		return Record{}, fmt.Errorf("%w: unknown status %q", ErrCorruptRecord, r.Status)
	}
}
