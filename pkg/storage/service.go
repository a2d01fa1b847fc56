package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/montecarlodata/snowflake-agent/pkg/serde"
)

const defaultPresignedURLExpiration = 300 * time.Second

// Service dispatches storage operations received from the orchestrator to
// the blob client.
type Service struct {
	client Client
}

// NewService creates the storage service over the given client
func NewService(client Client) *Service {
	return &Service{client: client}
}

// ExecuteOperation runs the storage operation carried by the event and
// returns its raw result value. The caller wraps it into a result envelope.
func (s *Service) ExecuteOperation(ctx context.Context, event map[string]any) (any, error) {
	operation, _ := event["operation"].(map[string]any)
	operationType, _ := operation["type"].(string)
	switch operationType {
	case "storage_read":
		return s.read(ctx, operation)
	case "storage_read_json":
		return s.readJSON(ctx, operation)
	case "storage_write":
		return s.write(ctx, operation)
	case "storage_delete":
		return s.delete(ctx, operation)
	case "storage_generate_presigned_url":
		return s.presignedURL(ctx, operation)
	case "storage_is_bucket_private":
		return s.client.IsBucketPrivate(), nil
	case "storage_read_many_json", "storage_list_objects", "storage_managed_download":
		return nil, fmt.Errorf("not implemented: %s", operationType)
	default:
		return nil, fmt.Errorf("Invalid operation type: %s", operationType)
	}
}

func (s *Service) read(ctx context.Context, operation map[string]any) (any, error) {
	key, err := requiredKey(operation)
	if err != nil {
		return nil, err
	}
	decompress, _ := operation["decompress"].(bool)
	contents, err := s.client.Read(ctx, key, decompress)
	if err != nil {
		return nil, err
	}
	if encoding, ok := operation["encoding"].(string); ok && encoding != "" {
		return string(contents), nil
	}
	return serde.Serialize(contents), nil
}

func (s *Service) readJSON(ctx context.Context, operation map[string]any) (any, error) {
	key, err := requiredKey(operation)
	if err != nil {
		return nil, err
	}
	contents, err := s.client.Read(ctx, key, false)
	if err != nil {
		return nil, err
	}
	var parsed map[string]any
	if err := json.Unmarshal(contents, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON at %s: %w", key, err)
	}
	return parsed, nil
}

func (s *Service) write(ctx context.Context, operation map[string]any) (any, error) {
	key, err := requiredKey(operation)
	if err != nil {
		return nil, err
	}
	contents, err := contentsToWrite(operation["obj_to_write"])
	if err != nil {
		return nil, err
	}
	if contents != nil {
		if err := s.client.Write(ctx, key, contents); err != nil {
			return nil, err
		}
	}
	return map[string]any{}, nil
}

func (s *Service) delete(ctx context.Context, operation map[string]any) (any, error) {
	key, err := requiredKey(operation)
	if err != nil {
		return nil, err
	}
	if err := s.client.Delete(ctx, key); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Service) presignedURL(ctx context.Context, operation map[string]any) (any, error) {
	key, err := requiredKey(operation)
	if err != nil {
		return nil, err
	}
	expiration := defaultPresignedURLExpiration
	if seconds, ok := operation["expiration"].(float64); ok && seconds > 0 {
		expiration = time.Duration(seconds) * time.Second
	}
	return s.client.GeneratePresignedURL(ctx, key, expiration)
}

// contentsToWrite decodes the write payload: a plain string or a tagged
// bytes value (base64), since raw bytes cannot travel in JSON.
func contentsToWrite(value any) ([]byte, error) {
	switch payload := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(payload), nil
	case map[string]any:
		if tag, _ := payload[serde.AttrType].(string); tag == serde.TypeBytes {
			data, _ := payload[serde.AttrData].(string)
			decoded, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return nil, fmt.Errorf("invalid bytes payload for obj_to_write: %w", err)
			}
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("Invalid type for obj_to_write parameter: %T", value)
}

func requiredKey(operation map[string]any) (string, error) {
	key, _ := operation["key"].(string)
	if key == "" {
		return "", fmt.Errorf("Key is required")
	}
	return key, nil
}
