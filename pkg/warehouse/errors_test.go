package warehouse

import (
	"errors"
	"testing"

	"github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"

	"github.com/montecarlodata/snowflake-agent/pkg/serde"
)

func TestClassifyErrorCode(t *testing.T) {
	tests := []struct {
		name string
		code int
		want ErrorKind
	}{
		{"insufficient privileges", 3001, KindProgrammingError},
		{"shared database gone", 3030, KindProgrammingError},
		{"object does not exist", 2043, KindProgrammingError},
		{"query cancelled", 604, KindProgrammingError},
		{"statement timed out", 630, KindProgrammingError},
		{"generic failure", 100183, KindDatabaseError},
		{"zero", 0, KindDatabaseError},
		{"storage not found", 253006, KindDatabaseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyErrorCode(tt.code))
		})
	}
}

func TestCleanErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{
			name: "procedure prefix stripped",
			msg:  "Uncaught exception of type 'STATEMENT_ERROR' on line 2 at position 25 : something failed",
			want: "something failed",
		},
		{
			name: "no prefix",
			msg:  "plain message",
			want: "plain message",
		},
		{
			name: "strips through first colon only",
			msg:  "prefix : error: detail",
			want: "error: detail",
		},
		{
			name: "empty",
			msg:  "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanErrorMessage(tt.msg))
		})
	}
}

func TestResultForQueryFailed(t *testing.T) {
	result := ResultForQueryFailed("op-1", 630, "Uncaught exception ... : timeout", "57014")

	assert.Equal(t, "timeout", result[serde.AttrError])
	assert.Equal(t, "ProgrammingError", result[serde.AttrErrorType])
	assert.Equal(t, map[string]any{"errno": 630, "sqlstate": "57014"}, result[serde.AttrErrorAttrs])
}

func TestResultForError(t *testing.T) {
	t.Run("warehouse error", func(t *testing.T) {
		err := &gosnowflake.SnowflakeError{
			Number:   2043,
			SQLState: "02000",
			Message:  "Object does not exist",
		}
		result := ResultForError(err)
		assert.Equal(t, "ProgrammingError", result[serde.AttrErrorType])
		assert.Equal(t, map[string]any{"errno": 2043, "sqlstate": "02000"}, result[serde.AttrErrorAttrs])
		assert.Contains(t, result[serde.AttrError], "Object does not exist")
	})

	t.Run("plain error", func(t *testing.T) {
		result := ResultForError(errors.New("connection refused"))
		assert.Equal(t, "connection refused", result[serde.AttrError])
		assert.NotContains(t, result, serde.AttrErrorType)
		assert.NotContains(t, result, serde.AttrErrorAttrs)
	})
}
