package logs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	rows    [][]any
	err     error
	queries []string
	args    [][]any
}

func (r *fakeRunner) FetchAll(ctx context.Context, query string, args ...any) ([][]any, []string, error) {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return r.rows, nil, r.err
}

func TestGetLogsLocalMode(t *testing.T) {
	service := NewService(&fakeRunner{}, true)

	entries, err := service.GetLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.Contains(t, entries[0].Message, "dummy")
}

func TestGetLogs(t *testing.T) {
	runner := &fakeRunner{rows: [][]any{
		{"[2026-08-25T10:00:00Z] service started"},
		{"no timestamp prefix"},
		{42},
		{},
		{"[broken prefix no separator"},
	}}
	service := NewService(runner, false)

	entries, err := service.GetLogs(context.Background(), 500)
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{Timestamp: "2026-08-25T10:00:00Z", Message: "service started"},
		{Message: "no timestamp prefix"},
		{Message: "[broken prefix no separator"},
	}, entries)

	require.Len(t, runner.args, 1)
	assert.Equal(t, []any{500}, runner.args[0])
}

func TestGetLogsQueryError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("procedure not found")}
	service := NewService(runner, false)

	_, err := service.GetLogs(context.Background(), 10)
	assert.Error(t, err)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Entry
	}{
		{
			name: "timestamped",
			line: "[2026-01-01T00:00:00Z] message body",
			want: Entry{Timestamp: "2026-01-01T00:00:00Z", Message: "message body"},
		},
		{
			name: "separator inside message",
			line: "[ts] left] right",
			want: Entry{Timestamp: "ts", Message: "left] right"},
		},
		{
			name: "plain",
			line: "just text",
			want: Entry{Message: "just text"},
		},
		{
			name: "empty",
			line: "",
			want: Entry{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLine(tt.line))
		})
	}
}
