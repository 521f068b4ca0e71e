package store

import (
	"encoding/json"
	"time"
)

// SnapshotThreshold defines the number of events after which a snapshot is created
const SnapshotThreshold = 10

// Snapshot represents a point-in-time state of an aggregate.
// It is an optimization only and can always be rebuilt from events.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"` // Last folded event version
	State         json.RawMessage `json:"state"`   // Serialized aggregate state
	CreatedAt     time.Time       `json:"created_at"`
}

// ShouldSnapshot reports whether moving from oldVersion to newVersion crosses
// a multiple of threshold.
func ShouldSnapshot(oldVersion, newVersion, threshold int) bool {
	if threshold <= 0 || newVersion <= oldVersion {
		return false
	}
	return newVersion/threshold > oldVersion/threshold
}
