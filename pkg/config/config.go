// Package config implements the agent's typed key/value configuration store.
//
// Settings are plain string key/value pairs behind a pluggable persistence:
// a warehouse table in the deployed app, environment variables for local runs.
package config

import (
	"strconv"
	"strings"
)

// Configuration keys.
const (
	// KeyUseConnectionPool enables/disables the warehouse connection pool
	KeyUseConnectionPool = "USE_CONNECTION_POOL"
	// KeyConnectionPoolSize is the size of the default connection pool
	KeyConnectionPoolSize = "CONNECTION_POOL_SIZE"
	// KeyQueriesRunnerThreadCount is the number of workers executing queries
	KeyQueriesRunnerThreadCount = "QUERIES_RUNNER_THREAD_COUNT"
	// KeyOpsRunnerThreadCount is the number of workers executing other operations
	// (storage, health, logs, etc.)
	KeyOpsRunnerThreadCount = "OPS_RUNNER_THREAD_COUNT"
	// KeyPublisherThreadCount is the number of workers publishing results
	KeyPublisherThreadCount = "PUBLISHER_THREAD_COUNT"
	// KeyUseSyncQueries switches query execution to the synchronous helper
	// procedure; update the pool size and runner thread count accordingly
	KeyUseSyncQueries = "USE_SYNC_QUERIES"
	// KeyStageName is the stage used as blob storage
	KeyStageName = "STAGE_NAME"
	// KeyPreSignedURLResponseExpirationSeconds is the expiration for result URLs
	KeyPreSignedURLResponseExpirationSeconds = "PRE_SIGNED_URL_RESPONSE_EXPIRATION_SECONDS"
	// KeyIsRemoteUpgradable allows the orchestrator to push config upgrades
	KeyIsRemoteUpgradable = "IS_REMOTE_UPGRADABLE"
	// KeyAckIntervalSeconds is the delay before an in-flight operation is ACKed
	KeyAckIntervalSeconds = "ACK_INTERVAL_SECONDS"
	// KeyPushLogsIntervalSeconds enables the periodic log push when set
	KeyPushLogsIntervalSeconds = "PUSH_LOGS_INTERVAL_SECONDS"
	// KeyWarehouseName is the warehouse used by the default pool
	KeyWarehouseName = "WAREHOUSE_NAME"
	// KeyJobTypes maps job types to warehouses, as JSON
	KeyJobTypes = "JOB_TYPES"
)

// Persistence is the storage behind the configuration store.
type Persistence interface {
	// Get returns the value for key and whether it was present
	Get(key string) (string, bool)
	// All returns every stored key/value pair
	All() map[string]string
	// Set stores a value, read-only strategies return an error
	Set(key, value string) error
}

// Store provides typed access to configuration values with defaults.
type Store struct {
	persistence Persistence
}

// NewStore creates a configuration store backed by the given persistence
func NewStore(persistence Persistence) *Store {
	return &Store{persistence: persistence}
}

// Str returns the string value for key, or def when unset
func (s *Store) Str(key, def string) string {
	if value, ok := s.persistence.Get(key); ok && value != "" {
		return value
	}
	return def
}

// OptionalStr returns the value for key, empty when unset
func (s *Store) OptionalStr(key string) string {
	value, _ := s.persistence.Get(key)
	return value
}

// Int returns the integer value for key, or def when unset or unparsable
func (s *Store) Int(key string, def int) int {
	value, ok := s.persistence.Get(key)
	if !ok || value == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}

// Bool returns the boolean value for key, or def when unset. Parsing is
// case-insensitive "true".
func (s *Store) Bool(key string, def bool) bool {
	value, ok := s.persistence.Get(key)
	if !ok || value == "" {
		return def
	}
	return strings.EqualFold(strings.TrimSpace(value), "true")
}

// All returns every stored key/value pair
func (s *Store) All() map[string]string {
	return s.persistence.All()
}

// SetValues stores the given values, the first failure aborts
func (s *Store) SetValues(values map[string]string) error {
	for key, value := range values {
		if err := s.persistence.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}
