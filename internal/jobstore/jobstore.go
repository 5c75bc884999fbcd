// Package jobstore provides the durable key-value medium for assessment and
// batch records. The store is the shared state across worker processes:
// every writer does a full-value replace, so last-writer-wins is the
// concurrency contract and progress updates must be idempotent.
package jobstore

import (
	"context"
	"encoding/json"
	"time"
)

// Default TTLs per record family
const (
	// DefaultAssessmentTTL bounds assessment record lifetime
	DefaultAssessmentTTL = 24 * time.Hour
	// DefaultBatchTTL bounds batch record lifetime
	DefaultBatchTTL = 7 * 24 * time.Hour
)

// Key prefixes per record family
const (
	assessmentPrefix = "assessment:"
	batchPrefix      = "batch:"
)

// AssessmentKey builds the store key for an assessment record
func AssessmentKey(id string) string { return assessmentPrefix + id }

// BatchKey builds the store key for a batch record
func BatchKey(id string) string { return batchPrefix + id }

// AssessmentPrefix returns the assessment key prefix for List scans
func AssessmentPrefix() string { return assessmentPrefix }

// BatchPrefix returns the batch key prefix for List scans
func BatchPrefix() string { return batchPrefix }

// Store is the durable map contract. Writes within one process are
// serialized per key by the implementation; cross-process writes are not,
// and readers may observe an older version.
type Store interface {
	// Put atomically replaces the value under key with the given TTL
	Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get unmarshals the value under key into dest. The bool result is
	// false when the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// GetMulti fetches several keys in a single round trip where the
	// backend allows. Missing keys are absent from the result.
	GetMulti(ctx context.Context, keys []string) (map[string]json.RawMessage, error)

	// Update performs a read-modify-write under the key's in-process lock
	// and refreshes the TTL. patch receives the current raw value (nil if
	// absent) and returns the replacement.
	Update(ctx context.Context, key string, ttl time.Duration, patch func(current json.RawMessage) (interface{}, error)) error

	// Delete removes a key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error

	// DeleteMulti removes several keys in a single round trip where possible
	DeleteMulti(ctx context.Context, keys []string) error

	// List returns the keys under a prefix. Operational scans only; not
	// part of any hot path.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources
	Close() error
}
