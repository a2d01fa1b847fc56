// Package results finalizes result envelopes before they are pushed to the
// orchestrator, spilling oversized payloads to storage.
package results

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/montecarlodata/snowflake-agent/pkg/config"
	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
	"github.com/montecarlodata/snowflake-agent/pkg/serde"
	"github.com/montecarlodata/snowflake-agent/pkg/warehouse"
)

const defaultURLExpirationSeconds = 60 * 60 // 1 hour

// Storage is the subset of the blob client the processor needs.
type Storage interface {
	Write(ctx context.Context, key string, contents []byte) error
	GeneratePresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
}

// Processor gates result envelopes on the operation's size limit. Results
// above the limit are written to storage under responses/{trace_id},
// optionally gzipped, and the inline result is replaced with a pre-signed
// URL pointing at the uploaded file.
type Processor struct {
	cfg     *config.Store
	storage Storage
}

// NewProcessor creates a result processor
func NewProcessor(cfg *config.Store, storage Storage) *Processor {
	return &Processor{cfg: cfg, storage: storage}
}

// Process returns the envelope to push for the given result. The input map
// is not mutated, a spilled result is returned as a new map.
func (p *Processor) Process(ctx context.Context, result map[string]any, attrs warehouse.OperationAttributes) (map[string]any, error) {
	serialized, err := serde.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}
	if attrs.ResponseSizeLimitBytes <= 0 || len(serialized) <= attrs.ResponseSizeLimitBytes {
		return result, nil
	}

	logger := log.WithOperationID(attrs.OperationID)
	key := fmt.Sprintf("responses/%s", attrs.TraceID)
	contents := serialized
	compressed := false
	if attrs.CompressResponseFile {
		contents, err = deflate(serialized)
		if err != nil {
			return nil, fmt.Errorf("failed to compress result: %w", err)
		}
		compressed = true
	}

	logger.Info().Str("trace_id", attrs.TraceID).Bool("compressed", compressed).
		Int("size", len(serialized)).Msg("Uploading large result")
	if err := p.storage.Write(ctx, key, contents); err != nil {
		return nil, fmt.Errorf("failed to upload result: %w", err)
	}

	expiration := time.Duration(p.cfg.Int(
		config.KeyPreSignedURLResponseExpirationSeconds, defaultURLExpirationSeconds,
	)) * time.Second
	url, err := p.storage.GeneratePresignedURL(ctx, key, expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate result URL: %w", err)
	}
	metrics.ResultsSpilledTotal.Inc()

	spilled := make(map[string]any, len(result)+1)
	for k, v := range result {
		if k == serde.AttrResult {
			continue
		}
		spilled[k] = v
	}
	spilled[serde.AttrResultLocation] = url
	spilled[serde.AttrResultCompressed] = compressed
	logger.Info().Str("trace_id", attrs.TraceID).Msg("Result uploaded")
	return spilled, nil
}

func deflate(contents []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(contents); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
