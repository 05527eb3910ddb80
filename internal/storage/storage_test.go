package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageExportKey(t *testing.T) {
	day := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "exports/usage-stats/2025/01/2025-01-05.jsonl", UsageExportKey(day))
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		provided string
		key      string
		want     string
	}{
		{"", "a/b.jsonl", ContentTypeNDJSON},
		{"", "a/b.JSON", "application/json"},
		{"", "report.csv", "text/csv"},
		{"", "noext", "application/octet-stream"},
		{"text/plain", "a.jsonl", "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.provided, tt.key))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&StorageError{Op: "Put", Key: "k", Err: ErrAccessDenied}))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrInvalidKey)))
	assert.True(t, IsRetryable(&StorageError{Op: "Put", Key: "k", Err: errors.New("connection reset")}))
}

func TestStorageError(t *testing.T) {
	err := &StorageError{Op: "Get", Key: "a.json", Err: ErrNotFound}
	assert.Equal(t, `storage Get "a.json": object not found`, err.Error())
	assert.True(t, IsNotFound(err))

	assert.Equal(t, "storage List: boom", (&StorageError{Op: "List", Err: errors.New("boom")}).Error())
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := New(Config{Provider: ProviderLocal, Local: LocalConfig{BasePath: t.TempDir()}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(Config{Provider: "gcs"}, logger)
	assert.Error(t, err)

	_, err = New(Config{Provider: ProviderR2, R2: R2Config{BucketName: "b"}}, logger)
	assert.Error(t, err, "account id or endpoint required")

	r2, err := New(Config{Provider: ProviderR2, R2: R2Config{BucketName: "b", Endpoint: "http://localhost:9000"}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &R2Storage{}, r2)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, validateKey(UsageExportKey(time.Now())))
	for _, key := range []string{"", "/abs", "a/../b"} {
		assert.ErrorIs(t, validateKey(key), ErrInvalidKey, key)
	}
}
