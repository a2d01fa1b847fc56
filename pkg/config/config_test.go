package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapPersistence is an in-memory persistence for tests.
type mapPersistence struct {
	values map[string]string
}

func (p *mapPersistence) Get(key string) (string, bool) {
	value, ok := p.values[key]
	return value, ok
}

func (p *mapPersistence) All() map[string]string {
	return p.values
}

func (p *mapPersistence) Set(key, value string) error {
	p.values[key] = value
	return nil
}

func TestStoreTypedAccessors(t *testing.T) {
	store := NewStore(&mapPersistence{values: map[string]string{
		"POOL_SIZE":    "5",
		"USE_POOL":     "TRUE",
		"DISABLED":     "false",
		"BAD_NUMBER":   "abc",
		"EMPTY":        "",
		"STAGE_NAME":   "my_stage",
		"PADDED_FLAG":  " true ",
		"PADDED_COUNT": " 7 ",
	}})

	assert.Equal(t, 5, store.Int("POOL_SIZE", 3))
	assert.Equal(t, 3, store.Int("MISSING", 3))
	assert.Equal(t, 3, store.Int("BAD_NUMBER", 3))
	assert.Equal(t, 7, store.Int("PADDED_COUNT", 3))

	// boolean parsing is case-insensitive "true"
	assert.True(t, store.Bool("USE_POOL", false))
	assert.False(t, store.Bool("DISABLED", true))
	assert.True(t, store.Bool("MISSING", true))
	assert.True(t, store.Bool("PADDED_FLAG", false))

	assert.Equal(t, "my_stage", store.Str("STAGE_NAME", "default"))
	assert.Equal(t, "default", store.Str("EMPTY", "default"))
	assert.Equal(t, "", store.OptionalStr("MISSING"))
}

func TestStoreSetValues(t *testing.T) {
	persistence := &mapPersistence{values: map[string]string{}}
	store := NewStore(persistence)

	err := store.SetValues(map[string]string{"A": "1", "B": "2"})
	require.NoError(t, err)
	assert.Equal(t, "1", store.OptionalStr("A"))
	assert.Equal(t, "2", store.OptionalStr("B"))
}

func TestEnvPersistence(t *testing.T) {
	t.Setenv("SNA_STAGE_NAME", "env_stage")

	persistence := NewEnvPersistence()
	value, ok := persistence.Get("STAGE_NAME")
	require.True(t, ok)
	assert.Equal(t, "env_stage", value)

	_, ok = persistence.Get("NOT_THERE")
	assert.False(t, ok)

	assert.Equal(t, "env_stage", persistence.All()["STAGE_NAME"])

	// environment persistence is read-only
	err := persistence.Set("STAGE_NAME", "other")
	assert.ErrorIs(t, err, ErrReadOnly)
}
