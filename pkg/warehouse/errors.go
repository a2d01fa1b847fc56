package warehouse

import (
	"errors"
	"strings"

	"github.com/snowflakedb/gosnowflake"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/serde"
)

// ErrorKind classifies warehouse failures for the orchestrator.
type ErrorKind string

const (
	KindProgrammingError ErrorKind = "ProgrammingError"
	KindDatabaseError    ErrorKind = "DatabaseError"
)

// Warehouse error codes classified as programming errors. Timeout and cancel
// are included so the orchestrator can distinguish them from transient
// database failures.
const (
	ErrCodeInsufficientPrivileges = 3001
	ErrCodeSharedDatabaseNoLonger = 3030
	ErrCodeObjectDoesNotExist     = 2043
	ErrCodeQueryCancelled         = 604
	ErrCodeStatementTimedOut      = 630
	ErrCodeStorageObjectNotFound  = 253006
)

var programmingErrorCodes = map[int]struct{}{
	ErrCodeInsufficientPrivileges: {},
	ErrCodeSharedDatabaseNoLonger: {},
	ErrCodeObjectDoesNotExist:     {},
	ErrCodeQueryCancelled:         {},
	ErrCodeStatementTimedOut:      {},
}

// ClassifyErrorCode maps a warehouse error code to its kind.
func ClassifyErrorCode(code int) ErrorKind {
	if _, ok := programmingErrorCodes[code]; ok {
		return KindProgrammingError
	}
	return KindDatabaseError
}

// CleanErrorMessage strips the procedure prefix from a callback error
// message, e.g. "Uncaught exception of type 'STATEMENT_ERROR' on line 2 at
// position 25 : something failed" becomes "something failed".
func CleanErrorMessage(msg string) string {
	if idx := strings.Index(msg, ":"); idx >= 0 {
		return strings.TrimSpace(msg[idx+1:])
	}
	return msg
}

// ResultForQueryFailed builds the error envelope for a query_failed callback.
func ResultForQueryFailed(operationID string, code int, msg, state string) map[string]any {
	cleaned := CleanErrorMessage(msg)
	log.WithComponent("warehouse").Info().
		Str("operation_id", operationID).Int("code", code).
		Str("msg", cleaned).Str("state", state).
		Msg("Query failed")
	return map[string]any{
		serde.AttrError:      cleaned,
		serde.AttrErrorAttrs: map[string]any{"errno": code, "sqlstate": state},
		serde.AttrErrorType:  string(ClassifyErrorCode(code)),
	}
}

// ResultForError canonicalizes an executor-side error into the envelope
// format. Warehouse errors carry errno and sqlstate, anything else becomes a
// bare error message.
func ResultForError(err error) map[string]any {
	result := map[string]any{
		serde.AttrError: err.Error(),
	}
	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		result[serde.AttrErrorAttrs] = map[string]any{
			"errno":    sfErr.Number,
			"sqlstate": sfErr.SQLState,
		}
		result[serde.AttrErrorType] = string(ClassifyErrorCode(sfErr.Number))
	}
	return result
}
