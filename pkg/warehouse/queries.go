package warehouse

// The wrapper procedure runs the query through the helper procedure, which
// executes as owner so the agent benefits from FUTURE grants (not available
// to native applications), and notifies the agent through the
// query_completed/query_failed functions. The op_json argument carries the
// JSON-encoded operation attributes so the callback can reconstruct routing
// context.
const queryExecuteWithHelper = `
WITH RUN_QUERY AS PROCEDURE(op_json VARCHAR, query STRING)
    RETURNS VARCHAR
    LANGUAGE SQL
    AS
    $$
    BEGIN
        BEGIN
            ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS=%d;
            CALL MCD_AGENT_HELPER.MCD_AGENT.MCD_AGENT_EXECUTE_QUERY(:query);
            SELECT * FROM TABLE(RESULT_SCAN(:SQLID));
            SELECT mcd_agent.core.query_completed(:op_json, :SQLID);
        EXCEPTION
            WHEN OTHER THEN BEGIN
                SELECT mcd_agent.core.query_failed(:op_json, :sqlcode, :sqlerrm, :sqlstate);
            END;
        END;
    END;
    $$
CALL RUN_QUERY(?, ?);
`

const querySetStatementTimeout = "ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS=%d"

const queryExecuteWithHelperSync = "CALL MCD_AGENT_HELPER.MCD_AGENT.MCD_AGENT_EXECUTE_QUERY(?)"

/// Executed asynchronously on upgrade: give the agent time to publish the
// result before the service restarts.
const queryRestartService = `
BEGIN
    SELECT SYSTEM$WAIT(5);
    CALL MCD_AGENT.CORE.RESTART_SERVICE();
END;
`
