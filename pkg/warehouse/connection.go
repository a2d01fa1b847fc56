package warehouse

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"github.com/montecarlodata/snowflake-agent/pkg/creds"
)

const connMaxLifetime = 30 * time.Minute

// TokenSource provides the warehouse OAuth token, creds.Provider in
// production.
type TokenSource interface {
	SessionToken() (string, error)
}

var _ TokenSource = (*creds.Provider)(nil)

// buildDSN resolves the connection string for a pool. Inside the container
// the platform provides host, account and database through the environment
// and an OAuth token through the mounted session file. Locally the standard
// SNOWFLAKE_* variables are used instead.
func buildDSN(warehouseName string, tokens TokenSource) (string, error) {
	if host := os.Getenv("SNOWFLAKE_HOST"); host != "" {
		token, err := tokens.SessionToken()
		if err != nil {
			return "", err
		}
		cfg := &gosnowflake.Config{
			Host:          host,
			Account:       os.Getenv("SNOWFLAKE_ACCOUNT"),
			Database:      os.Getenv("SNOWFLAKE_DATABASE"),
			Warehouse:     warehouseName,
			Authenticator: gosnowflake.AuthTypeOAuth,
			Token:         token,
		}
		dsn, err := gosnowflake.DSN(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to build warehouse DSN: %w", err)
		}
		return dsn, nil
	}

	cfg := &gosnowflake.Config{
		Account:   os.Getenv("SNOWFLAKE_ACCOUNT"),
		User:      os.Getenv("SNOWFLAKE_USER"),
		Password:  os.Getenv("SNOWFLAKE_PASSWORD"),
		Role:      os.Getenv("SNOWFLAKE_ROLE"),
		Warehouse: warehouseName,
	}
	dsn, err := gosnowflake.DSN(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to build warehouse DSN: %w", err)
	}
	return dsn, nil
}

// pool wraps the database handle for one warehouse.
type pool struct {
	warehouseName string
	db            *sql.DB
}

// openPool opens a handle sized for the given pool. Idle connections above
// the pool size are closed when released and any connection is discarded
// after 30 minutes. With pooling disabled no idle connections are kept, each
// call gets a fresh connection that is closed on release.
func openPool(warehouseName string, poolSize int, usePool bool, tokens TokenSource) (*pool, error) {
	dsn, err := buildDSN(warehouseName, tokens)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection pool: %w", err)
	}
	if usePool {
		db.SetMaxIdleConns(poolSize)
	} else {
		db.SetMaxIdleConns(0)
	}
	db.SetMaxOpenConns(0) // overflow beyond the pool size is allowed
	db.SetConnMaxLifetime(connMaxLifetime)
	return &pool{warehouseName: warehouseName, db: db}, nil
}

func (p *pool) close() error {
	return p.db.Close()
}
