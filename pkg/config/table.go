package config

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
)

const defaultConfigTable = "MCD_AGENT.CONFIG.APP_CONFIG"

const (
	queryLoadConfig   = "SELECT KEY, VALUE FROM %s"
	queryUpdateConfig = `MERGE INTO %s USING (SELECT ? AS KEY, ? AS VALUE) SRC ON %s.KEY = SRC.KEY
WHEN MATCHED THEN UPDATE SET VALUE = SRC.VALUE
WHEN NOT MATCHED THEN INSERT (KEY, VALUE) VALUES (SRC.KEY, SRC.VALUE)`
)

// TablePersistence loads and stores configuration settings in the app
// database config table. Values are cached on load and the cache is reloaded
// after every write.
type TablePersistence struct {
	db    *sql.DB
	table string

	mu     sync.RWMutex
	values map[string]string
}

// NewTablePersistence creates a table-backed persistence and loads the
// current values. The table name is taken from CONFIG_TABLE_NAME.
func NewTablePersistence(db *sql.DB) (*TablePersistence, error) {
	table := os.Getenv("CONFIG_TABLE_NAME")
	if table == "" {
		table = defaultConfigTable
	}
	p := &TablePersistence{db: db, table: table}
	if err := p.reload(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log.Logger.Info().Int("settings", len(p.values)).Str("table", table).
		Msg("Loaded configuration from DB")
	return p, nil
}

// Get returns the cached value for key
func (p *TablePersistence) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.values[key]
	return value, ok
}

// All returns a copy of the cached values
func (p *TablePersistence) All() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	values := make(map[string]string, len(p.values))
	for key, value := range p.values {
		values[key] = value
	}
	return values
}

// Set merges the value into the config table and reloads the cache
func (p *TablePersistence) Set(key, value string) error {
	query := fmt.Sprintf(queryUpdateConfig, p.table, p.table)
	if _, err := p.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to update config %q: %w", key, err)
	}
	return p.reload()
}

func (p *TablePersistence) reload() error {
	rows, err := p.db.Query(fmt.Sprintf(queryLoadConfig, p.table))
	if err != nil {
		return err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.values = values
	p.mu.Unlock()
	return nil
}
