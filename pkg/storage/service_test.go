package storage

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montecarlodata/snowflake-agent/pkg/serde"
)

type fakeClient struct {
	contents   map[string][]byte
	deleted    []string
	lastURL    string
	expiration time.Duration
	readErr    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{contents: map[string][]byte{}}
}

func (c *fakeClient) BucketName() string { return "test_stage" }

func (c *fakeClient) Write(ctx context.Context, key string, contents []byte) error {
	c.contents[key] = contents
	return nil
}

func (c *fakeClient) Read(ctx context.Context, key string, decompress bool) ([]byte, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	contents, ok := c.contents[key]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Op: "read", Key: key}
	}
	return contents, nil
}

func (c *fakeClient) Delete(ctx context.Context, key string) error {
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *fakeClient) DownloadFile(ctx context.Context, key, downloadPath string) error { return nil }

func (c *fakeClient) UploadFile(ctx context.Context, key, localFilePath string) error { return nil }

func (c *fakeClient) GeneratePresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	c.expiration = expiration
	c.lastURL = "https://signed.example.com/" + key
	return c.lastURL, nil
}

func (c *fakeClient) IsBucketPrivate() bool { return true }

func event(operation map[string]any) map[string]any {
	return map[string]any{"operation": operation}
}

func TestExecuteOperationInvalidType(t *testing.T) {
	service := NewService(newFakeClient())

	_, err := service.ExecuteOperation(context.Background(), event(map[string]any{
		"type": "storage_rename",
	}))
	require.Error(t, err)
	assert.Equal(t, "Invalid operation type: storage_rename", err.Error())
}

func TestExecuteOperationMissingKey(t *testing.T) {
	service := NewService(newFakeClient())

	for _, operationType := range []string{
		"storage_read", "storage_read_json", "storage_write",
		"storage_delete", "storage_generate_presigned_url",
	} {
		_, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type": operationType,
		}))
		require.Error(t, err, operationType)
		assert.Equal(t, "Key is required", err.Error(), operationType)
	}
}

func TestStorageRead(t *testing.T) {
	client := newFakeClient()
	client.contents["data/file.bin"] = []byte{0x01, 0x02}
	service := NewService(client)

	t.Run("binary content is tagged", func(t *testing.T) {
		value, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type": "storage_read",
			"key":  "data/file.bin",
		}))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			serde.AttrType: serde.TypeBytes,
			serde.AttrData: base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}),
		}, value)
	})

	t.Run("encoding returns a string", func(t *testing.T) {
		client.contents["data/file.txt"] = []byte("hello")
		value, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type":     "storage_read",
			"key":      "data/file.txt",
			"encoding": "utf-8",
		}))
		require.NoError(t, err)
		assert.Equal(t, "hello", value)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type": "storage_read",
			"key":  "data/nope",
		}))
		assert.True(t, IsNotFound(err))
	})
}

func TestStorageReadJSON(t *testing.T) {
	client := newFakeClient()
	client.contents["data/doc.json"] = []byte(`{"a": 1}`)
	service := NewService(client)

	value, err := service.ExecuteOperation(context.Background(), event(map[string]any{
		"type": "storage_read_json",
		"key":  "data/doc.json",
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, value)
}

func TestStorageWrite(t *testing.T) {
	client := newFakeClient()
	service := NewService(client)

	t.Run("string payload", func(t *testing.T) {
		_, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type":         "storage_write",
			"key":          "data/a.txt",
			"obj_to_write": "contents",
		}))
		require.NoError(t, err)
		assert.Equal(t, []byte("contents"), client.contents["data/a.txt"])
	})

	t.Run("tagged bytes payload", func(t *testing.T) {
		_, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type": "storage_write",
			"key":  "data/b.bin",
			"obj_to_write": map[string]any{
				serde.AttrType: serde.TypeBytes,
				serde.AttrData: base64.StdEncoding.EncodeToString([]byte{0xCA, 0xFE}),
			},
		}))
		require.NoError(t, err)
		assert.Equal(t, []byte{0xCA, 0xFE}, client.contents["data/b.bin"])
	})

	t.Run("invalid payload type", func(t *testing.T) {
		_, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type":         "storage_write",
			"key":          "data/c",
			"obj_to_write": float64(42),
		}))
		assert.Error(t, err)
	})
}

func TestStorageDelete(t *testing.T) {
	client := newFakeClient()
	service := NewService(client)

	value, err := service.ExecuteOperation(context.Background(), event(map[string]any{
		"type": "storage_delete",
		"key":  "data/a.txt",
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, value)
	assert.Equal(t, []string{"data/a.txt"}, client.deleted)
}

func TestStoragePresignedURL(t *testing.T) {
	client := newFakeClient()
	service := NewService(client)

	t.Run("default expiration", func(t *testing.T) {
		value, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type": "storage_generate_presigned_url",
			"key":  "data/a.txt",
		}))
		require.NoError(t, err)
		assert.Equal(t, "https://signed.example.com/data/a.txt", value)
		assert.Equal(t, 300*time.Second, client.expiration)
	})

	t.Run("explicit expiration", func(t *testing.T) {
		_, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type":       "storage_generate_presigned_url",
			"key":        "data/a.txt",
			"expiration": float64(60),
		}))
		require.NoError(t, err)
		assert.Equal(t, 60*time.Second, client.expiration)
	})
}

func TestStorageIsBucketPrivate(t *testing.T) {
	service := NewService(newFakeClient())

	value, err := service.ExecuteOperation(context.Background(), event(map[string]any{
		"type": "storage_is_bucket_private",
	}))
	require.NoError(t, err)
	assert.Equal(t, true, value)
}

func TestStorageNotImplementedOperations(t *testing.T) {
	service := NewService(newFakeClient())

	for _, operationType := range []string{
		"storage_read_many_json", "storage_list_objects", "storage_managed_download",
	} {
		_, err := service.ExecuteOperation(context.Background(), event(map[string]any{
			"type": operationType,
			"key":  "data/a",
		}))
		require.Error(t, err, operationType)
		assert.Contains(t, err.Error(), "not implemented")
	}
}

func TestErrorKinds(t *testing.T) {
	notFound := &Error{Kind: KindNotFound, Key: "data/a"}
	assert.True(t, IsNotFound(notFound))
	assert.Equal(t, "File not found: data/a", notFound.Error())

	generic := &Error{Kind: KindGeneric, Op: "write", Key: "data/a"}
	assert.False(t, IsNotFound(generic))
}
