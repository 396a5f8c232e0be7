package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

type fakeStore struct {
	uploads map[string][]byte
	failAll bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	if f.failAll {
		return "", fmt.Errorf("storage unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.uploads[key] = data
	return f.GetPublicURL(key), nil
}

func (f *fakeStore) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty scratch dir, found %d files", len(entries))
	}
}

func TestDownloadAndUpload_Success(t *testing.T) {
	payload := []byte("fake jpeg bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	store := newFakeStore()
	scratch := t.TempDir()
	m := NewManager(store, scratch)

	size, err := m.DownloadAndUpload(context.Background(), srv.URL+"/img.jpg", "results/t/pro/001.jpg")
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if size != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), size)
	}
	if got := store.uploads["results/t/pro/001.jpg"]; string(got) != string(payload) {
		t.Errorf("stored bytes mismatch: %q", got)
	}
	assertScratchEmpty(t, scratch)
}

func TestDownloadAndUpload_SourceErrorCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	store := newFakeStore()
	scratch := t.TempDir()
	m := NewManager(store, scratch)

	if _, err := m.DownloadAndUpload(context.Background(), srv.URL+"/img.jpg", "results/t/pro/001.jpg"); err == nil {
		t.Fatal("expected error for 404 source")
	}
	if len(store.uploads) != 0 {
		t.Error("nothing should have been uploaded")
	}
	assertScratchEmpty(t, scratch)
}

func TestDownloadAndUpload_UploadErrorCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake jpeg bytes"))
	}))
	defer srv.Close()

	store := newFakeStore()
	store.failAll = true
	scratch := t.TempDir()
	m := NewManager(store, scratch)

	if _, err := m.DownloadAndUpload(context.Background(), srv.URL+"/img.jpg", "results/t/pro/001.jpg"); err == nil {
		t.Fatal("expected error when storage rejects the upload")
	}
	assertScratchEmpty(t, scratch)
}

func TestDownload_InMemory(t *testing.T) {
	payload := []byte("watermark me")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	m := NewManager(newFakeStore(), t.TempDir())
	data, err := m.Download(context.Background(), srv.URL+"/img.jpg")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("downloaded bytes mismatch: %q", data)
	}
}

func TestUploadBuffer(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, t.TempDir())

	size, err := m.UploadBuffer(context.Background(), []byte("stamped"), "results/t/free/001.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("upload buffer failed: %v", err)
	}
	if size != int64(len("stamped")) {
		t.Errorf("unexpected size %d", size)
	}
	if string(store.uploads["results/t/free/001.jpg"]) != "stamped" {
		t.Error("buffer not stored under dest key")
	}

	if _, err := m.UploadBuffer(context.Background(), nil, "results/t/free/002.jpg", ""); err == nil {
		t.Fatal("expected error for empty buffer")
	}
}
