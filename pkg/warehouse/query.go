package warehouse

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	// DefaultTimeoutSeconds is the statement timeout applied when the
	// operation does not specify one.
	DefaultTimeoutSeconds = 850

	// DefaultResponseSizeLimitBytes is the inline result size threshold used
	// when the operation does not specify one.
	DefaultResponseSizeLimitBytes = 5_000_000
)

// OperationAttributes is the routing context carried across the async query
// boundary. It is JSON-encoded into the wrapper procedure call and decoded
// back when the warehouse invokes the completion callback, so the callback
// can reconstruct everything needed to publish the result.
type OperationAttributes struct {
	OperationID            string `json:"operation_id"`
	TraceID                string `json:"trace_id"`
	CompressResponseFile   bool   `json:"compress_response_file"`
	ResponseSizeLimitBytes int    `json:"response_size_limit_bytes"`
	JobType                string `json:"job_type,omitempty"`
}

// NewOperationAttributes builds attributes from the inbound operation body,
// applying defaults for missing values. A missing trace id gets a generated
// one so correlation never breaks downstream.
func NewOperationAttributes(operationID string, operation map[string]any) OperationAttributes {
	attrs := OperationAttributes{
		OperationID:            operationID,
		TraceID:                uuid.NewString(),
		CompressResponseFile:   true,
		ResponseSizeLimitBytes: DefaultResponseSizeLimitBytes,
	}
	if traceID, ok := operation["trace_id"].(string); ok && traceID != "" {
		attrs.TraceID = traceID
	}
	if compress, ok := operation["compress_response_file"].(bool); ok {
		attrs.CompressResponseFile = compress
	}
	if limit, ok := operation["response_size_limit_bytes"].(float64); ok {
		attrs.ResponseSizeLimitBytes = int(limit)
	}
	if jobType, ok := operation["job_type"].(string); ok {
		attrs.JobType = jobType
	}
	return attrs
}

// Encode serializes the attributes for the wrapper procedure call.
func (a OperationAttributes) Encode() (string, error) {
	encoded, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode operation attributes: %w", err)
	}
	return string(encoded), nil
}

// DecodeOperationAttributes parses the attributes from a completion callback.
func DecodeOperationAttributes(opJSON string) (OperationAttributes, error) {
	var attrs OperationAttributes
	if err := json.Unmarshal([]byte(opJSON), &attrs); err != nil {
		return OperationAttributes{}, fmt.Errorf("failed to decode operation attributes: %w", err)
	}
	return attrs, nil
}

// Query is a single SQL statement to execute in the warehouse.
type Query struct {
	OperationID    string
	SQL            string
	TimeoutSeconds int
	Attrs          OperationAttributes
}

func (q Query) timeout() int {
	if q.TimeoutSeconds > 0 {
		return q.TimeoutSeconds
	}
	return DefaultTimeoutSeconds
}
