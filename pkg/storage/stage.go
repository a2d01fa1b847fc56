package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/snowflakedb/gosnowflake"

	"github.com/montecarlodata/snowflake-agent/pkg/config"
	"github.com/montecarlodata/snowflake-agent/pkg/warehouse"
)

const (
	defaultStageName = "mcd_agent.core.data_store"
	defaultPrefix    = "mcd"
)

var gzipMagic = []byte{0x1f, 0x8b}

// QueryRunner executes a statement in the warehouse and returns all rows,
// warehouse.Executor in production.
type QueryRunner interface {
	FetchAll(ctx context.Context, query string, args ...any) ([][]any, []string, error)
}

// StageClient stores blobs in an internal stage through SQL statements: PUT
// to write, GET to read, REMOVE to delete. Uploads and downloads go through
// transient local temp files that are removed on every exit path.
type StageClient struct {
	runner    QueryRunner
	stageName string
	prefix    string
	local     bool
}

// NewStageClient creates a stage-backed storage client. The stage name comes
// from the environment or configuration, keys are stored under the "mcd/"
// prefix.
func NewStageClient(cfg *config.Store, runner QueryRunner, local bool) *StageClient {
	stageName := os.Getenv(config.KeyStageName)
	if stageName == "" {
		stageName = cfg.Str(config.KeyStageName, defaultStageName)
	}
	return &StageClient{
		runner:    runner,
		stageName: stageName,
		prefix:    defaultPrefix + "/",
		local:     local,
	}
}

func (c *StageClient) BucketName() string {
	return c.stageName
}

// Write stores contents at key. The contents are first saved to a temp file
// that PUT uploads to the stage, the file is removed afterwards.
func (c *StageClient) Write(ctx context.Context, key string, contents []byte) error {
	folder, fileName := parseKey(key)

	tmpDir, err := os.MkdirTemp("", "stage-write")
	if err != nil {
		return &Error{Kind: KindGeneric, Op: "write", Key: key, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	tmpLocation := filepath.Join(tmpDir, fileName)
	if err := os.WriteFile(tmpLocation, contents, 0o600); err != nil {
		return &Error{Kind: KindGeneric, Op: "write", Key: key, Err: err}
	}

	putQuery := fmt.Sprintf(
		"PUT file://%s @%s/%s AUTO_COMPRESS=FALSE OVERWRITE=TRUE",
		tmpLocation, c.stageName, c.applyPrefix(folder),
	)
	_, err = c.runStageQuery(ctx, putQuery, "write", key)
	return err
}

// Read downloads the blob at key into a temp directory and returns its
// contents. Gzip content is inflated when decompress is set.
func (c *StageClient) Read(ctx context.Context, key string, decompress bool) ([]byte, error) {
	_, fileName := parseKey(key)

	tmpDir, err := os.MkdirTemp("", "stage-read")
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Op: "read", Key: key, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	getQuery := fmt.Sprintf("GET @%s/%s file://%s", c.stageName, c.applyPrefix(key), tmpDir)
	if _, err := c.runStageQuery(ctx, getQuery, "read", key); err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(filepath.Join(tmpDir, fileName))
	if err != nil {
		return nil, &Error{Kind: KindNotFound, Op: "read", Key: key, Err: err}
	}
	if decompress && bytes.HasPrefix(contents, gzipMagic) {
		contents, err = inflate(contents)
		if err != nil {
			return nil, &Error{Kind: KindGeneric, Op: "read", Key: key, Err: err}
		}
	}
	return contents, nil
}

// Delete removes the blob at key.
func (c *StageClient) Delete(ctx context.Context, key string) error {
	deleteQuery := fmt.Sprintf("REMOVE @%s/%s", c.stageName, c.applyPrefix(key))
	_, err := c.runStageQuery(ctx, deleteQuery, "delete", key)
	return err
}

// DownloadFile copies the blob at key to downloadPath. GET always writes the
// file under its stage name, so the result is renamed when the requested name
// differs.
func (c *StageClient) DownloadFile(ctx context.Context, key, downloadPath string) error {
	downloadDir := filepath.Dir(downloadPath)
	_, fileName := parseKey(key)

	getQuery := fmt.Sprintf("GET @%s/%s file://%s", c.stageName, c.applyPrefix(key), downloadDir)
	if _, err := c.runStageQuery(ctx, getQuery, "download", key); err != nil {
		return err
	}

	downloaded := filepath.Join(downloadDir, fileName)
	if downloaded != downloadPath {
		if err := os.Rename(downloaded, downloadPath); err != nil {
			return &Error{Kind: KindGeneric, Op: "download", Key: key, Err: err}
		}
	}
	return nil
}

// UploadFile stores the local file at key.
func (c *StageClient) UploadFile(ctx context.Context, key, localFilePath string) error {
	putQuery := fmt.Sprintf(
		"PUT file://%s @%s/%s AUTO_COMPRESS=FALSE OVERWRITE=TRUE",
		localFilePath, c.stageName, c.applyPrefix(key),
	)
	_, err := c.runStageQuery(ctx, putQuery, "upload", key)
	return err
}

// GeneratePresignedURL builds a GET_PRESIGNED_URL call for key. Running the
// call directly inside the platform returns a URL that does not work, so in
// that environment the call is wrapped in the execute_query procedure.
func (c *StageClient) GeneratePresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	fullKey := c.applyPrefix(key)
	fullKey = strings.TrimPrefix(fullKey, "/")
	urlQuery := fmt.Sprintf(
		"CALL GET_PRESIGNED_URL(@%s, '%s', %d)",
		c.stageName, fullKey, int(expiration.Seconds()),
	)

	var rows [][]any
	var err error
	if c.local {
		rows, err = c.runStageQuery(ctx, urlQuery, "pre_signed_url", key)
	} else {
		rows, err = c.runStageQuery(ctx, "CALL mcd_agent.core.execute_query(?)", "pre_signed_url", key, urlQuery)
	}
	if err != nil {
		return "", err
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		if url, ok := rows[0][0].(string); ok && url != "" {
			return url, nil
		}
	}
	return "", &Error{Kind: KindGeneric, Op: "pre_signed_url", Key: key, Err: errors.New("no pre-signed URL returned")}
}

// IsBucketPrivate always reports true, internal stages are never publicly
// reachable.
func (c *StageClient) IsBucketPrivate() bool {
	return true
}

func (c *StageClient) runStageQuery(ctx context.Context, query, op, key string, args ...any) ([][]any, error) {
	rows, _, err := c.runner.FetchAll(ctx, query, args...)
	if err != nil {
		var sfErr *gosnowflake.SnowflakeError
		if errors.As(err, &sfErr) && sfErr.Number == warehouse.ErrCodeStorageObjectNotFound {
			return nil, &Error{Kind: KindNotFound, Op: op, Key: key, Err: err}
		}
		return nil, &Error{Kind: KindGeneric, Op: op, Key: key, Err: err}
	}
	return rows, nil
}

func (c *StageClient) applyPrefix(key string) string {
	if key == "" {
		return c.prefix
	}
	return c.prefix + key
}

// parseKey splits a key into its folder (with a trailing slash when present)
// and file name, some stage operations take them separately.
func parseKey(key string) (string, string) {
	folder, fileName := path.Split(key)
	if folder == "/" {
		folder = ""
	}
	return folder, fileName
}

func inflate(contents []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(contents))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
