package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/snowflakedb/gosnowflake"

	"github.com/montecarlodata/snowflake-agent/pkg/config"
	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
	"github.com/montecarlodata/snowflake-agent/pkg/serde"
)

const (
	defaultWarehouseName = "MCD_AGENT_WH"
	defaultPoolSize      = 3
)

type jobTypePoolConfig struct {
	JobType       string `json:"job_type"`
	WarehouseName string `json:"warehouse_name"`
	PoolSize      int    `json:"pool_size"`
}

type jobTypesConfig struct {
	JobTypes []jobTypePoolConfig `json:"job_types"`
}

// Executor runs queries in the warehouse. Queries are wrapped in a procedure
// that notifies the agent through callback functions when the query completes
// or fails, so the worker thread never blocks on a long-running statement.
//
// The executor owns one connection pool per job type plus a default pool, the
// pool set is built at construction and read-only afterwards.
type Executor struct {
	cfg         *config.Store
	defaultPool *pool
	pools       map[string]*pool

	// directSync runs statements directly instead of through the helper,
	// local development only.
	directSync bool
	// helperSync calls the helper procedure synchronously instead of using
	// the async wrapper.
	helperSync bool
}

// NewExecutor creates the executor and its connection pool set. Malformed
// job type entries are logged and skipped.
func NewExecutor(cfg *config.Store, tokens TokenSource, local bool) (*Executor, error) {
	usePool := cfg.Bool(config.KeyUseConnectionPool, true)
	poolSize := cfg.Int(config.KeyConnectionPoolSize, defaultPoolSize)
	warehouseName := cfg.Str(config.KeyWarehouseName, defaultWarehouseName)

	logger := log.WithComponent("warehouse")
	defaultPool, err := openPool(warehouseName, poolSize, usePool, tokens)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("warehouse", warehouseName).Int("pool_size", poolSize).
		Msg("Created default connection pool")

	executor := &Executor{
		cfg:         cfg,
		defaultPool: defaultPool,
		pools:       make(map[string]*pool),
		directSync:  local,
		helperSync:  cfg.Bool(config.KeyUseSyncQueries, false),
	}

	if jobTypesJSON := cfg.OptionalStr(config.KeyJobTypes); jobTypesJSON != "" {
		var jobTypes jobTypesConfig
		if err := json.Unmarshal([]byte(jobTypesJSON), &jobTypes); err != nil {
			logger.Error().Err(err).Msg("Failed to parse job types configuration")
		} else {
			for _, jt := range jobTypes.JobTypes {
				if jt.JobType == "" || jt.WarehouseName == "" {
					logger.Error().Str("job_type", jt.JobType).
						Str("warehouse", jt.WarehouseName).
						Msg("Skipping invalid job type configuration")
					continue
				}
				size := jt.PoolSize
				if size <= 0 {
					size = poolSize
				}
				jobTypePool, err := openPool(jt.WarehouseName, size, usePool, tokens)
				if err != nil {
					logger.Error().Err(err).Str("job_type", jt.JobType).
						Msg("Failed to create job type pool")
					continue
				}
				executor.pools[jt.JobType] = jobTypePool
				logger.Info().Str("job_type", jt.JobType).
					Str("warehouse", jt.WarehouseName).Int("pool_size", size).
					Msg("Created job type connection pool")
			}
		}
	}
	return executor, nil
}

// Close releases all connection pools.
func (e *Executor) Close() {
	for _, p := range e.pools {
		if err := p.close(); err != nil {
			log.WithComponent("warehouse").Warn().Err(err).Msg("Failed to close pool")
		}
	}
	if err := e.defaultPool.close(); err != nil {
		log.WithComponent("warehouse").Warn().Err(err).Msg("Failed to close pool")
	}
}

// WarehouseNameForJobType returns the warehouse servicing the given job type,
// falling back to the default pool.
func (e *Executor) WarehouseNameForJobType(jobType string) string {
	return e.poolFor(jobType).warehouseName
}

func (e *Executor) poolFor(jobType string) *pool {
	if jobType != "" {
		if p, ok := e.pools[jobType]; ok {
			return p
		}
	}
	return e.defaultPool
}

// RunQuery executes a query. In async mode (the default) the query is handed
// to the wrapper procedure and the returned result is nil, the outcome
// arrives later through the query_completed/query_failed callbacks. The sync
// modes return the result envelope directly.
func (e *Executor) RunQuery(ctx context.Context, query Query) (map[string]any, error) {
	logger := log.WithOperationID(query.OperationID)
	p := e.poolFor(query.Attrs.JobType)

	if e.directSync {
		metrics.QueriesTotal.WithLabelValues("direct").Inc()
		rows, err := p.db.QueryContext(ctx, query.SQL)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		logger.Info().Str("query", query.SQL).Msg("Sync query executed")
		return resultForRows(rows)
	}

	if e.helperSync {
		metrics.QueriesTotal.WithLabelValues("sync").Inc()
		var result map[string]any
		err := e.withConn(ctx, p, func(conn *sql.Conn) error {
			if _, err := conn.ExecContext(ctx, fmt.Sprintf(querySetStatementTimeout, query.timeout())); err != nil {
				return err
			}
			rows, err := conn.QueryContext(ctx, queryExecuteWithHelperSync, query.SQL)
			if err != nil {
				return err
			}
			defer rows.Close()
			result, err = resultForRows(rows)
			return err
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("query", query.SQL).Msg("Sync query executed")
		return result, nil
	}

	metrics.QueriesTotal.WithLabelValues("async").Inc()
	opJSON, err := query.Attrs.Encode()
	if err != nil {
		return nil, err
	}
	asyncCtx := gosnowflake.WithAsyncMode(ctx)
	wrapped := fmt.Sprintf(queryExecuteWithHelper, query.timeout())
	if _, err := p.db.ExecContext(asyncCtx, wrapped, opJSON, query.SQL); err != nil {
		return nil, err
	}
	logger.Info().Str("query", query.SQL).Str("warehouse", p.warehouseName).
		Msg("Async query executed")
	return nil, nil
}

// ResultForQuery fetches the results of a completed async query by its
// warehouse-assigned id.
func (e *Executor) ResultForQuery(ctx context.Context, queryID string) (map[string]any, error) {
	fetchCtx := gosnowflake.WithFetchResultByID(ctx, queryID)
	rows, err := e.defaultPool.db.QueryContext(fetchCtx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch results for query %s: %w", queryID, err)
	}
	defer rows.Close()
	return resultForRows(rows)
}

// FetchAll runs a statement on the default pool and returns all rows along
// with the column names. Used for internal queries like storage, logs and
// configuration.
func (e *Executor) FetchAll(ctx context.Context, query string, args ...any) ([][]any, []string, error) {
	rows, err := e.defaultPool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	allRows, err := scanRows(rows, len(columns))
	if err != nil {
		return nil, nil, err
	}
	return allRows, columns, nil
}

// RestartService schedules a container restart. The statement waits five
// seconds before restarting so the upgrade result can be published first.
func (e *Executor) RestartService(ctx context.Context) error {
	asyncCtx := gosnowflake.WithAsyncMode(ctx)
	if _, err := e.defaultPool.db.ExecContext(asyncCtx, queryRestartService); err != nil {
		return fmt.Errorf("failed to schedule service restart: %w", err)
	}
	return nil
}

// DB exposes the default pool handle for collaborators that speak SQL
// directly, like the configuration table persistence.
func (e *Executor) DB() *sql.DB {
	return e.defaultPool.db
}

func (e *Executor) withConn(ctx context.Context, p *pool, fn func(conn *sql.Conn) error) error {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// resultForRows builds the result envelope for a finished statement,
// mirroring the cursor shape the orchestrator expects: all rows, the column
// description and the row count.
func resultForRows(rows *sql.Rows) (map[string]any, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	allRows, err := scanRows(rows, len(columnTypes))
	if err != nil {
		return nil, err
	}

	description := make([]any, len(columnTypes))
	for i, col := range columnTypes {
		precision, scale, _ := col.DecimalSize()
		nullable, _ := col.Nullable()
		description[i] = []any{
			col.Name(), col.DatabaseTypeName(), nil, nil, precision, scale, nullable,
		}
	}

	return map[string]any{
		serde.AttrResult: map[string]any{
			"all_results": allRows,
			"description": description,
			"rowcount":    len(allRows),
		},
	}, nil
}

func scanRows(rows *sql.Rows, columnCount int) ([][]any, error) {
	var allRows [][]any
	for rows.Next() {
		values := make([]any, columnCount)
		pointers := make([]any, columnCount)
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		allRows = append(allRows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return allRows, nil
}
