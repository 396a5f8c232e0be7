package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gaole-2025/rizzify-sub000/internal/client"
)

// Manager moves generated images from the external API's delivery URLs
// into durable object storage.
type Manager struct {
	httpClient *http.Client
	store      client.ObjectStore
	scratchDir string
}

// NewManager creates a transfer manager writing into store. scratchDir
// defaults to the OS temp dir.
func NewManager(store client.ObjectStore, scratchDir string) *Manager {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Manager{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		store:      store,
		scratchDir: scratchDir,
	}
}

// DownloadAndUpload fetches sourceURL to a scratch file, streams it into
// object storage under destKey and returns the stored size. The scratch
// file is removed on both success and failure.
func (m *Manager) DownloadAndUpload(ctx context.Context, sourceURL, destKey string) (int64, error) {
	scratchPath := filepath.Join(m.scratchDir, uuid.NewString()+".tmp")

	size, err := m.downloadToFile(ctx, sourceURL, scratchPath)
	if err != nil {
		return 0, err
	}
	defer os.Remove(scratchPath)

	f, err := os.Open(scratchPath)
	if err != nil {
		return 0, fmt.Errorf("open scratch file: %w", err)
	}
	defer f.Close()

	if _, err := m.store.Upload(ctx, destKey, f, "image/jpeg"); err != nil {
		return 0, fmt.Errorf("upload %s: %w", destKey, err)
	}
	return size, nil
}

// Download fetches sourceURL fully into memory.
func (m *Manager) Download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %d", sourceURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}
	return data, nil
}

// UploadBuffer writes an in-memory image to object storage under destKey,
// skipping the local disk round-trip.
func (m *Manager) UploadBuffer(ctx context.Context, data []byte, destKey, contentType string) (int64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if _, err := m.store.Upload(ctx, destKey, bytes.NewReader(data), contentType); err != nil {
		return 0, fmt.Errorf("upload %s: %w", destKey, err)
	}
	return int64(len(data)), nil
}

func (m *Manager) downloadToFile(ctx context.Context, sourceURL, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create download request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: unexpected status %d", sourceURL, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create scratch file: %w", err)
	}

	size, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("write scratch file: %w", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return 0, fmt.Errorf("close scratch file: %w", closeErr)
	}
	return size, nil
}
