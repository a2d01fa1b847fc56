package config

import (
	"errors"
	"os"
	"strings"
)

const envPrefix = "SNA_"

// ErrReadOnly is returned when writing to a read-only persistence.
var ErrReadOnly = errors.New("config persistence is read-only, update env vars instead")

// EnvPersistence reads configuration from SNA_-prefixed environment variables.
// It is read-only and used for local development.
type EnvPersistence struct{}

// NewEnvPersistence creates an environment-variable backed persistence
func NewEnvPersistence() *EnvPersistence {
	return &EnvPersistence{}
}

// Get returns the value of the SNA_<key> environment variable
func (p *EnvPersistence) Get(key string) (string, bool) {
	return os.LookupEnv(envPrefix + key)
}

// All returns every SNA_-prefixed environment variable, unprefixed
func (p *EnvPersistence) All() map[string]string {
	values := make(map[string]string)
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, envPrefix) {
			continue
		}
		key, value, ok := strings.Cut(entry[len(envPrefix):], "=")
		if !ok {
			continue
		}
		values[key] = value
	}
	return values
}

// Set always fails, environment variables are not writable at runtime
func (p *EnvPersistence) Set(string, string) error {
	return ErrReadOnly
}
